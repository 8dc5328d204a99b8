package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/output"
)

type runOptions struct {
	outputs       []string
	summaryExport string
	quiet         bool
	logLevel      string
	logFormat     string
	noColor       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a load test from a YAML or JSON file",
		Long: `Run the scenarios of a test file and print the end-of-test summary.

Metric samples can be streamed while the test runs:

  surge run test.yaml --out json=results.json.gz --out prometheus=:5656`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.outputs, "out", "o", nil, "stream samples to an output, as type=target (json, csv, prometheus)")
	f.StringVar(&opts.summaryExport, "summary-export", "", "write the end-of-test summary as JSON to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "disable live progress, show only the final summary")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "console", "log format: console, json")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	return cmd
}

func runTest(ctx context.Context, stdout io.Writer, path string, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.New(logging.Config{
		Level:    opts.logLevel,
		Encoding: opts.logFormat,
		NoColor:  opts.noColor,
	})
	if err != nil {
		return &engine.RunError{Code: engine.ExitInvalidConfig, Err: err}
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	for _, spec := range opts.outputs {
		typ, target, err := output.ParseSpec(spec)
		if err != nil {
			return &engine.RunError{Code: engine.ExitInvalidConfig, Err: err}
		}
		cfg.Outputs = append(cfg.Outputs, config.OutputConfig{Type: typ, Target: target})
	}

	var progress *output.Progress
	if !opts.quiet {
		progress = output.NewProgress(output.ProgressConfig{
			TestName: cfg.Name,
			Writer:   stdout,
			NoColor:  opts.noColor,
		})
	}

	eng, err := engine.New(cfg, engine.Options{Logger: logger, Progress: progress})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go watchInterrupts(sigs, done, eng, cancel, logger)

	res, runErr := eng.Run(runCtx)
	if res == nil || res.Summary == nil {
		return runErr
	}

	output.WriteSummary(stdout, res.Summary, output.SummaryOptions{
		TrendStats: cfg.Options.SummaryTrendStats,
		Colors:     output.SchemeFor(stdout, opts.noColor),
	})

	if opts.summaryExport != "" {
		if err := output.ExportSummary(opts.summaryExport, res.Summary); err != nil {
			logger.Errorw("failed to export summary", "path", opts.summaryExport, "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("export summary: %w", err)
			}
		} else {
			logger.Infow("summary exported", "path", opts.summaryExport)
		}
	}
	return runErr
}

// stopper is the part of the engine an interrupt drives.
type stopper interface {
	Stop(ctx context.Context) error
}

// watchInterrupts stops the test gracefully on the first signal and cancels
// it on the second. It returns when done is closed.
func watchInterrupts(sigs <-chan os.Signal, done <-chan struct{}, eng stopper, cancel context.CancelFunc, logger *zap.SugaredLogger) {
	select {
	case sig := <-sigs:
		logger.Warnw("stopping test, interrupt again to abort", "signal", sig.String())
		go func() {
			ctx, stop := context.WithTimeout(context.Background(), time.Minute)
			defer stop()
			if err := eng.Stop(ctx); err != nil {
				logger.Warnw("graceful stop did not finish", "error", err)
			}
		}()
	case <-done:
		return
	}

	select {
	case sig := <-sigs:
		logger.Warnw("aborting test", "signal", sig.String())
		cancel()
	case <-done:
	}
}

func loadConfig(path string) (*config.TestConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, &engine.RunError{Code: engine.ExitInvalidConfig, Err: err}
	}
	return cfg, nil
}
