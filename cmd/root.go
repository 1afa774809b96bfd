package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "nb",
		Short:         "Neurobattery (nb): administer a neuropsychological test battery",
		Long:          "nb runs the subtests of a neuropsychological battery in order, scores each one and submits the results to the evaluation service.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.wire(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Config file (default ~/.neurobattery/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Log subtest progress to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBatteryCmd(app),
		newConfigCmd(app),
		newAuthCmd(app),
		newRunCmd(app),
	)

	return rootCmd
}
