package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/heapbridge/internal/conf"
)

// Command creates the config command for showing or saving the effective configuration
func Command() *cobra.Command {
	var savePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, the config file, environment
variables and flags have been applied. With --save the result is written to
a file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(conf.Setting(), cmd.OutOrStdout(), savePath)
		},
	}

	cmd.Flags().StringVar(&savePath, "save", "", "Write the configuration to this file")

	return cmd
}

func run(settings *conf.Settings, out io.Writer, savePath string) error {
	if savePath != "" {
		if err := conf.SaveYAMLConfig(savePath, settings); err != nil {
			return err
		}
		fmt.Fprintf(out, "Configuration saved to %s\n", savePath)
		return nil
	}

	data, err := conf.MarshalYAML(settings)
	if err != nil {
		return err
	}
	if source, err := conf.FindConfigFile(); err == nil {
		fmt.Fprintf(out, "# loaded from %s\n", source)
	}
	_, err = out.Write(data)
	return err
}
