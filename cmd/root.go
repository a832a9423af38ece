package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/heapbridge/cmd/config"
	"github.com/tphakala/heapbridge/cmd/inspect"
	"github.com/tphakala/heapbridge/cmd/process"
	"github.com/tphakala/heapbridge/internal/buildinfo"
	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	var (
		configFile string
		closeLog   func() error
	)

	rootCmd := &cobra.Command{
		Use:           "heapbridge",
		Short:         "Stream audio through a native WebAssembly module",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		process.Command(),
		inspect.Command(),
		configcmd.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			conf.SetConfigFile(configFile)
		}

		// Flags are bound to viper, so values given on the command line
		// take precedence over the config file and environment
		settings, err := conf.Load()
		if err != nil {
			return err
		}

		closeLog, err = logging.Configure(settings)
		if err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}

		logging.Debug("configuration loaded",
			"config_file", viper.ConfigFileUsed(),
			"module", settings.Module.Path)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config file")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.StringP("module", "m", "", "Path to the native WebAssembly module")
	flags.String("module-cache", "", "Directory for the compiled module cache")
	flags.Bool("telemetry", false, "Serve Prometheus metrics while running")
	flags.String("telemetry-listen", "", "Listen address for the metrics endpoint")

	bindings := map[string]string{
		"debug":             "debug",
		"module.path":       "module",
		"module.cachedir":   "module-cache",
		"telemetry.enabled": "telemetry",
		"telemetry.listen":  "telemetry-listen",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}

	return nil
}
