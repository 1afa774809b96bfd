package cmd

import (
	"fmt"

	tomlconfig "github.com/bnema/neurobattery/internal/adapters/config/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the battery configuration file",
	}

	cmd.AddCommand(newConfigInitCmd(app), newConfigShowCmd(app), newConfigPathCmd(app))

	return cmd
}

func newConfigInitCmd(app *app) *cobra.Command {
	var baseURL string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default battery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configFile()
			if err != nil {
				return err
			}
			if err := tomlconfig.Write(path, tomlconfig.Default(baseURL), force); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Evaluation service base URL")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigShowCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			encoded, err := tomlconfig.Encode(cfg)
			if err != nil {
				return err
			}
			if cfg.File != "" {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.File); err != nil {
					return err
				}
			}
			_, err = cmd.OutOrStdout().Write(encoded)
			return err
		},
	}
}

func newConfigPathCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configFile()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}
