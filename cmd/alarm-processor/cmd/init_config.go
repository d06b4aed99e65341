package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-processor/internal/config"
)

// initConfigCmd writes a configuration file with every default filled in.
//
//nolint:gochecknoglobals // Cobra commands are package-level by convention.
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Save(configPath, config.Default()); err != nil {
			return err
		}

		cmd.Printf("Configuration written to %s\n", configPath)

		return nil
	},
}
