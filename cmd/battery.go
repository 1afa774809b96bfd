package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/bnema/neurobattery/internal/adapters/render/summary"
	"github.com/bnema/neurobattery/internal/application"
	"github.com/bnema/neurobattery/internal/subtests"
	"github.com/spf13/cobra"
)

type batteryEntryJSON struct {
	ID             string `json:"id"`
	DurationMs     int64  `json:"durationMs"`
	Policy         string `json:"policy"`
	Modality       string `json:"modality"`
	OperatorScored bool   `json:"operatorScored"`
	Path           string `json:"path"`
}

func newBatteryCmd(app *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "battery",
		Short: "List the configured subtests in administration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			registry, err := application.NewBattery(cfg.Battery, subtests.Providers{})
			if err != nil {
				return fmt.Errorf("build battery: %w", err)
			}
			descriptors := registry.Descriptors()

			if jsonOutput {
				entries := make([]batteryEntryJSON, 0, len(descriptors))
				for _, descriptor := range descriptors {
					entries = append(entries, batteryEntryJSON{
						ID:             string(descriptor.ID),
						DurationMs:     descriptor.Duration.Milliseconds(),
						Policy:         string(descriptor.Policy),
						Modality:       string(descriptor.Modality),
						OperatorScored: descriptor.OperatorScored,
						Path:           descriptor.Path,
					})
				}

				encoded, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return fmt.Errorf("encode battery json: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return err
			}

			output, err := summary.RenderBattery(summary.Battery{Descriptors: descriptors, Source: cfg.File})
			if err != nil {
				return fmt.Errorf("render battery: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	return cmd
}
