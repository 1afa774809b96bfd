package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/spf13/cobra"
)

func newAuthCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the evaluation service token",
	}

	cmd.AddCommand(newAuthSetTokenCmd(app), newAuthClearTokenCmd(app), newAuthStatusCmd(app))

	return cmd
}

func newAuthSetTokenCmd(app *app) *cobra.Command {
	var token string
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Store the bearer token sent with submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token is required (--token or --stdin)")
			}

			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			return app.credentials.Put(cmd.Context(), cfg.Sink.TokenRef, token)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the token from stdin")
	cmd.MarkFlagsMutuallyExclusive("token", "stdin")

	return cmd
}

func newAuthClearTokenCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-token",
		Short: "Remove the stored bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			return app.credentials.Delete(cmd.Context(), cfg.Sink.TokenRef)
		},
	}
}

func newAuthStatusCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether submissions will be authenticated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			state := "set"
			if _, err := app.credentials.Get(cmd.Context(), cfg.Sink.TokenRef); err != nil {
				if !errors.Is(err, domain.ErrCredentialNotFound) {
					return err
				}
				state = "not set (submissions are sent without a token)"
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "token %s: %s\noverride: %s\n",
				cfg.Sink.TokenRef, state, app.credentials.EnvName(cfg.Sink.TokenRef))
			return err
		},
	}
}
