// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLogSettings(&settings.Main.Log); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateModuleSettings(&settings.Module); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateProcessSettings(&settings.Process); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

func validateLogSettings(settings *LogConfig) error {
	switch settings.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		return fmt.Errorf("log rotation must be daily, weekly or size, got %q", settings.Rotation)
	}

	if settings.Rotation == RotationSize && settings.MaxSize <= 0 {
		return fmt.Errorf("log maxsize must be positive for size rotation")
	}

	if settings.Level != "" && !slices.Contains(validLogLevels, settings.Level) {
		return fmt.Errorf("log level must be one of %v, got %q", validLogLevels, settings.Level)
	}

	if settings.Enabled && settings.Path == "" {
		return fmt.Errorf("log path is required when file logging is enabled")
	}

	return nil
}

func validateModuleSettings(settings *ModuleSettings) error {
	if settings.AllocExport == "" || settings.FreeExport == "" {
		return fmt.Errorf("module allocexport and freeexport must not be empty")
	}

	if settings.AllocExport == settings.FreeExport {
		return fmt.Errorf("module allocexport and freeexport must differ, both are %q", settings.AllocExport)
	}

	if settings.MemoryLimitPages > MaxMemoryPages {
		return fmt.Errorf("module memorylimitpages must be at most %d, got %d", MaxMemoryPages, settings.MemoryLimitPages)
	}

	if settings.LoadTimeout < 0 {
		return fmt.Errorf("module loadtimeout must not be negative, got %s", settings.LoadTimeout)
	}

	return nil
}

func validateProcessSettings(settings *ProcessSettings) error {
	if settings.BlockSize <= 0 || settings.BlockSize > MaxBlockSize {
		return fmt.Errorf("process blocksize must be between 1 and %d, got %d", MaxBlockSize, settings.BlockSize)
	}

	if settings.InputRegion == "" || settings.OutputRegion == "" {
		return fmt.Errorf("process inputregion and outputregion must not be empty")
	}

	if settings.InputRegion == settings.OutputRegion {
		return fmt.Errorf("process inputregion and outputregion must differ, both are %q", settings.InputRegion)
	}

	if settings.Workers < 0 {
		return fmt.Errorf("process workers must not be negative, got %d", settings.Workers)
	}

	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if !settings.Enabled {
		return nil
	}

	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("telemetry listen address %q is invalid: %w", settings.Listen, err)
	}

	return nil
}
