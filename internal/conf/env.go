// env.go - Environment variable configuration and validation for heapbridge
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "HEAPBRIDGE_DEBUG", validateEnvBool},

		// Native module
		{"module.path", "HEAPBRIDGE_MODULE_PATH", nil},
		{"module.cachedir", "HEAPBRIDGE_MODULE_CACHEDIR", nil},
		{"module.memorylimitpages", "HEAPBRIDGE_MODULE_MEMORYLIMITPAGES", validateEnvPages},
		{"module.loadtimeout", "HEAPBRIDGE_MODULE_LOADTIMEOUT", validateEnvDuration},

		// Processing
		{"process.blocksize", "HEAPBRIDGE_PROCESS_BLOCKSIZE", validateEnvBlockSize},
		{"process.workers", "HEAPBRIDGE_PROCESS_WORKERS", validateEnvWorkers},
		{"process.outputdir", "HEAPBRIDGE_PROCESS_OUTPUTDIR", nil},

		// Telemetry
		{"telemetry.enabled", "HEAPBRIDGE_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "HEAPBRIDGE_TELEMETRY_LISTEN", validateEnvListen},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvPages(value string) error {
	pages, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid memory page count: %w", err)
	}
	if pages > MaxMemoryPages {
		return fmt.Errorf("memory page count must be at most %d, got %d", MaxMemoryPages, pages)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvBlockSize(value string) error {
	size, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid block size: %w", err)
	}
	if size <= 0 || size > MaxBlockSize {
		return fmt.Errorf("block size must be between 1 and %d, got %d", MaxBlockSize, size)
	}
	return nil
}

func validateEnvWorkers(value string) error {
	workers, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid workers: %w", err)
	}
	if workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", workers)
	}
	return nil
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	return nil
}
