// conf/utils.go various util functions for configuration package
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tphakala/heapbridge/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns a list of default configuration paths for the current operating system.
// If a config.yaml file is found in any of the paths, it returns that path as the only default.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", AppName),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", AppName),
			"/etc/" + AppName,
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the configuration file.
func FindConfigFile() (string, error) {
	if configFileFlag != "" {
		return configFileFlag, nil
	}

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}

// GetBasePath expands environment variables in the given path and ensures the resulting directory exists.
func GetBasePath(path string) (string, error) {
	basePath := filepath.Clean(os.ExpandEnv(path))

	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return "", errors.New(fmt.Errorf("failed to create directory '%s': %w", basePath, err)).
			Category(errors.CategoryFileIO).
			Context("operation", "create-base-path").
			Build()
	}

	return basePath, nil
}

// OutputPath returns the path of the processed copy of input inside outputDir.
// The input extension is replaced by .wav since processed audio is always written as WAV.
func OutputPath(outputDir, input string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+".wav")
}
