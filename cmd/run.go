package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/neurobattery/internal/adapters/capture"
	"github.com/bnema/neurobattery/internal/adapters/clock"
	"github.com/bnema/neurobattery/internal/adapters/render/summary"
	scriptyaml "github.com/bnema/neurobattery/internal/adapters/script/yaml"
	"github.com/bnema/neurobattery/internal/application"
	"github.com/bnema/neurobattery/internal/domain"
	"github.com/bnema/neurobattery/internal/ports"
	"github.com/bnema/neurobattery/internal/subtests"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	scriptPath   string
	evaluationID string
	patientID    string
	operatorID   string
	realtime     bool
	seed         uint64
	retries      int
}

// sessionClock is the time source a run is administered on.
type sessionClock interface {
	ports.Clock
	ports.Scheduler
	scriptyaml.Waiter
}

func newRunCmd(app *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Administer the battery from a recorded script",
		Long:  "run replays an administration script against the configured battery, submits every subtest to the evaluation service and prints the session summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBattery(cmd, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Administration script (YAML)")
	cmd.Flags().StringVar(&opts.evaluationID, "evaluation-id", "", "Evaluation ID (overrides the script)")
	cmd.Flags().StringVar(&opts.patientID, "patient", "", "Patient ID (overrides the script)")
	cmd.Flags().StringVar(&opts.operatorID, "operator", "", "Operator ID (overrides the script)")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Let script waits pass on the wall clock instead of instantly")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Seed for grid and node layout (0 picks one)")
	cmd.Flags().IntVar(&opts.retries, "retries", 2, "Re-submissions of a rejected blocking subtest before giving up")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func runBattery(cmd *cobra.Command, app *app, opts runOptions) error {
	ctx := cmd.Context()
	logger := app.logger

	script, err := scriptyaml.Load(opts.scriptPath)
	if err != nil {
		return err
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	sink, err := app.newSink(cfg)
	if err != nil {
		return err
	}

	var sessionTime sessionClock = clock.NewVirtual(app.now())
	if opts.realtime {
		sessionTime = clock.Realtime{}
	}

	pointer := capture.NewScriptedPointer()
	providers := subtests.Providers{Pointer: pointer}
	if script.Audio.File != "" {
		providers.Audio = &capture.AudioFile{Path: script.Audio.File, Length: script.Audio.Length, Scheduler: sessionTime}
	}

	battery := cfg.Battery
	battery.Attention.Seed = opts.seed
	battery.Executive.Seed = opts.seed
	registry, err := application.NewBattery(battery, providers)
	if err != nil {
		return fmt.Errorf("build battery: %w", err)
	}

	session := application.NewSessionContext()
	screens := application.NewScreens(session, logger.Named("screens"), func(from, to application.Screen) {
		logger.Debug("screen changed", zap.String("from", string(from)), zap.String("to", string(to)))
	})
	sequencer := application.NewSequencer(registry, application.NewAggregator(), application.SequencerDeps{
		Scheduler: sessionTime,
		Clock:     sessionTime,
		Listener:  screens,
		Logger:    logger.Named("sequencer"),
	})
	runner := application.NewRunner(application.RunnerDeps{
		Sequencer: sequencer,
		Identity:  session,
		Scheduler: sessionTime,
		Clock:     sessionTime,
		Sink:      sink,
		Logger:    logger.Named("runner"),
		OnTick: func(id domain.SubtestID, remaining time.Duration) {
			logger.Debug("tick", zap.String("subtest", string(id)), zap.Duration("remaining", remaining))
		},
		OnSubmitError: func(id domain.SubtestID, err error) {
			logger.Warn("submission failed", zap.String("subtest", string(id)), zap.Error(err))
		},
	})
	defer screens.Logout()

	if err := openSession(screens, session, runner, script, opts); err != nil {
		return err
	}

	player := &scriptyaml.Player{
		Runner:  runner,
		Pointer: pointer,
		Waiter:  sessionTime,
		Retries: opts.retries,
		Logger:  logger.Named("script"),
		OnStep: func(index int, step scriptyaml.Step) {
			logger.Info("step", zap.Int("index", index), zap.String("subtest", string(step.Subtest)))
		},
	}
	playErr := player.Play(ctx, script)

	if err := runSubmissionProgress(ctx, cmd.ErrOrStderr(), runner); err != nil {
		logger.Warn("submission progress failed", zap.Error(err))
		runner.Wait()
	}

	report := summary.NewReport(runner.Session(), registry.Descriptors(), sequencer.Aggregator().ByRegistryOrder(registry), runner.SubmissionFailures())
	output, err := summary.RenderSession(report)
	if err != nil {
		return errors.Join(playErr, fmt.Errorf("render summary: %w", err))
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), output); err != nil {
		return errors.Join(playErr, err)
	}

	if playErr != nil {
		return playErr
	}
	if screens.Current() != application.ScreenResults {
		return fmt.Errorf("script ended before the last subtest (%d of %d results)", len(report.Results), registry.Len())
	}
	return nil
}

// openSession walks the screens from login to the test runner.
func openSession(screens *application.Screens, session *application.SessionContext, runner *application.Runner, script scriptyaml.Script, opts runOptions) error {
	operatorID := firstNonEmpty(opts.operatorID, script.Operator, "cli")
	if err := screens.Authenticated(application.Operator{ID: operatorID}); err != nil {
		return fmt.Errorf("sign in operator: %w", err)
	}
	if err := screens.Fire(application.EventSelectPatient); err != nil {
		return err
	}

	patient := domain.PatientRef{ID: firstNonEmpty(opts.patientID, script.Patient), Name: script.PatientName}
	if err := session.SelectPatient(patient, firstNonEmpty(opts.evaluationID, script.EvaluationID)); err != nil {
		return fmt.Errorf("select patient: %w", err)
	}
	session.Attach(runner)

	if _, err := runner.Start(session.Patient()); err != nil {
		return err
	}
	return screens.SessionStarted()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
