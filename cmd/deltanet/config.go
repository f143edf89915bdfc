package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/deltanet/internal/config"
)

func configCmd() *cobra.Command {
	var (
		path     string
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration",
		Long: `Print the effective configuration as TOML.

Without --config the defaults are printed, which makes a good
starting point for a new deltanet.toml.

Examples:
  deltanet config > deltanet.toml
  deltanet config --config deltanet.toml --validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return err
				}
				success(cmd.ErrOrStderr(), "%s is valid", displayPath(cfg))
				return nil
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to "+config.ConfigFileName)
	cmd.Flags().BoolVar(&validate, "validate", false, "Only validate the configuration")

	return cmd
}

func displayPath(cfg *config.Config) string {
	if cfg.Path() == "" {
		return "default configuration"
	}
	return cfg.Path()
}
