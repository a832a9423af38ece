// config.go: settings struct for heapbridge and functions to load and save it
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay string       // Day of the week for RotationWeekly (as a string: "Sunday", "Monday", etc.)
	Level       string       // Minimum level written to the file
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// ModuleSettings describes the precompiled native module and its exports
type ModuleSettings struct {
	Path             string        // path to the .wasm file
	AllocExport      string        // exported allocate function, malloc(size) -> ptr
	FreeExport       string        // exported release function, free(ptr)
	ProcessExport    string        // exported compute function, process(in, out, bytesPerChannel, channels)
	CacheDir         string        // wazero compilation cache directory, empty disables it
	MemoryLimitPages uint32        // upper bound on linear memory pages, 0 for runtime default
	LoadTimeout      time.Duration // upper bound on compile + instantiate
}

// ProcessSettings controls how audio is streamed through the module
type ProcessSettings struct {
	BlockSize    int    // frames per block
	InputRegion  string // region identifier for input channels
	OutputRegion string // region identifier for output channels
	OutputDir    string // directory for processed files
	Workers      int    // files processed concurrently, 0 selects automatically
}

// TelemetrySettings controls the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   // true to enable the metrics endpoint
	Listen  string // listen address
}

// Settings contains all configuration options for heapbridge
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of the instance
		Log  LogConfig // main log file settings
	}

	Module    ModuleSettings
	Process   ProcessSettings
	Telemetry TelemetrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFileFlag   string
)

// SetConfigFile makes Load read path instead of searching the default locations
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFileFlag = path
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		// Invalid environment values are reported but do not stop startup;
		// ValidateSettings rejects values that would break processing
		fmt.Fprintln(os.Stderr, err)
	}

	if configFileFlag != "" {
		viper.SetConfigFile(configFileFlag)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFileFlag, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config to the first default path
func createDefaultConfig(configPaths []string) error {
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, or defaults when Load
// has not been called
func Setting() *Settings {
	if s := GetSettings(); s != nil {
		return s
	}
	return Defaults()
}

// Defaults returns settings populated only from built-in defaults
func Defaults() *Settings {
	s := &Settings{}
	s.Main.Name = AppName
	s.Main.Log = LogConfig{
		Path:        "logs/heapbridge.log",
		Rotation:    RotationDaily,
		MaxSize:     10 * 1024 * 1024,
		RotationDay: time.Sunday.String(),
		Level:       "info",
	}
	s.Module = ModuleSettings{
		AllocExport:   DefaultAllocExport,
		FreeExport:    DefaultFreeExport,
		ProcessExport: DefaultProcessExport,
		LoadTimeout:   30 * time.Second,
	}
	s.Process = ProcessSettings{
		BlockSize:    DefaultBlockSize,
		InputRegion:  DefaultInputRegion,
		OutputRegion: DefaultOutputRegion,
		OutputDir:    "output",
	}
	s.Telemetry = TelemetrySettings{Listen: "0.0.0.0:8090"}
	return s
}

// MarshalYAML renders settings as YAML
func MarshalYAML(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := MarshalYAML(settings)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error renaming temporary file: %w", err)
	}

	return nil
}
