package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"platescraper/internal/backend"
	"platescraper/internal/captcha"
	"platescraper/internal/components/chrono"
	comptelemetry "platescraper/internal/components/telemetry"
	"platescraper/internal/digest"
	"platescraper/internal/driver"
	"platescraper/internal/journal"
	"platescraper/internal/notify"
	"platescraper/internal/publish"
	"platescraper/internal/queue"
	"platescraper/internal/session"
	"platescraper/internal/sites"
	"platescraper/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	runSource *string
	runOnce   *bool
)

func init() {
	runSource = runCmd.Flags().StringP("source", "s", "", "The source to work for, a code (A..E) or a name.")
	runOnce = runCmd.Flags().Bool("once", false, "Stop after the first plate.")
	runCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run --source <A..E> [--once]",
	Short: "Processes the pending plates of a source until interrupted.",
	// errors come from the run itself, not from the arguments.
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, ok := sites.Lookup(*runSource)
		if !ok {
			return fmt.Errorf("%w: %q", sites.ErrUnknownSource, *runSource)
		}
		cfg, err := readConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		otel, err := telemetry.Setup(ctx, "platescraper", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := otel.Shutdown(shutdownCtx)
			if err != nil {
				slog.Warn("telemetry shutdown", "err", err)
			}
		}()
		if cfg.Telemetry.PerfStats {
			telemetry.InstrumentPerfStats(ctx)
		}

		err = run(ctx, cfg, source, *runOnce)
		if err != nil {
			slog.Error("driver stopped", "err", err)
			return err
		}
		return nil
	},
}

func run(ctx context.Context, cfg Config, source sites.Source, once bool) error {
	tel := comptelemetry.SlogAPI{Logger: slog.Default().With("source", source.Code)}

	backendClient, err := backend.NewClient(cfg.backendOptions(debugOutput("backend")), tel)
	if err != nil {
		return err
	}
	queueClient := queue.NewClient(source.Code, backendClient, tel)

	deps := sites.Deps{
		Browser: cfg.browserOptions(source.Name),
		Sunarp:  cfg.Sunarp,
		Multas:  cfg.multasOptions(debugOutput("multas")),
		Url:     cfg.Urls[source.Code],
	}
	if source.Captcha && cfg.Captcha.Enabled() {
		solver, err := captcha.NewClient(cfg.captchaOptions(debugOutput("captcha")), tel)
		if err != nil {
			return err
		}
		deps.Solver = solver
	}
	siteAdapter, factory, err := sites.Build(source, deps, tel)
	if err != nil {
		return err
	}

	opts := driver.Options{
		Config:    cfg.driverConfig(source.Code, source.PerItemSession, once),
		Queue:     queueClient,
		Sessions:  session.NewManager(factory, tel),
		Adapter:   siteAdapter,
		Publisher: publish.NewPublisher(backendClient, queueClient, tel),
		Notifier:  notify.New(cfg.Notify),
	}

	runs, err := journal.Open(ctx, cfg.Journal.Path, tel)
	if err != nil {
		slog.WarnContext(ctx, "running without a journal", "path", cfg.Journal.Path, "err", err)
	} else {
		defer runs.Close()
		opts.Journal = runs

		cron := chrono.NewStandardCron(tel)
		defer cron.Stop()
		summary := digest.New(digest.Options{
			Source:    source.Code,
			Retention: cfg.Journal.Retention.Std(),
		}, runs, opts.Notifier, tel)
		err = summary.Schedule(ctx, cron, cfg.Journal.DigestCron)
		if err != nil {
			return err
		}
	}

	d, err := driver.New(opts, tel)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "starting", "source", source.Code, "name", source.Name, "backend", cfg.Backend.BaseUrl)
	return d.Run(ctx)
}
