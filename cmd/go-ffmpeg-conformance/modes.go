package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/classifier"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/fixture"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/ledger"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/metrics"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/oracle"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/orchestrator"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/perf"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/report"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/tui"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// app holds what every mode needs.
type app struct {
	cfg    *config.Config
	dec    decoder.Decoder
	ref    decoder.Decoder
	runner process.Runner
	logger *slog.Logger
	out    io.Writer
}

// =============================================================================
// Shared setup
// =============================================================================

// startMetrics creates the collector and, when -metrics is set, serves it.
// The returned stop function shuts the server down and writes -metrics-file.
func (a *app) startMetrics(decoderName string) (*metrics.Collector, string, func(), error) {
	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version: version,
		Decoder: decoderName,
		Mode:    string(a.cfg.Mode()),
		Workers: a.cfg.Workers,
	})

	var server *metrics.Server
	addr := ""
	if a.cfg.MetricsAddr != "" {
		server = metrics.NewServer(a.cfg.MetricsAddr, collector, a.logger)
		if err := server.Start(); err != nil {
			return nil, "", nil, err
		}
		addr = server.Addr()
	}

	stop := func() {
		if a.cfg.MetricsFile != "" {
			if err := metrics.WriteTextfile(collector.Gatherer(), a.cfg.MetricsFile); err != nil {
				a.logger.Error("metrics_file_failed", "path", a.cfg.MetricsFile, "error", err)
			} else {
				a.logger.Info("metrics_file_written", "path", a.cfg.MetricsFile)
			}
		}
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				a.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}
	}
	return collector, addr, stop, nil
}

// resolver returns the fixture resolver, or nil with -skip-fixtures.
func (a *app) resolver() orchestrator.Resolver {
	if a.cfg.SkipFixtures {
		return nil
	}
	return a.fixtureResolver()
}

func (a *app) fixtureResolver() *fixture.Resolver {
	client := &http.Client{Timeout: a.cfg.DownloadTimeout}
	return fixture.NewResolver(client, a.cfg.DownloadTimeout, a.logger)
}

// resolveFixtures resolves the fixtures under every test path.
func (a *app) resolveFixtures(ctx context.Context) error {
	r := a.resolver()
	if r == nil {
		return nil
	}
	for _, root := range a.cfg.TestPaths {
		n, err := r.ResolveAll(ctx, root)
		if err != nil {
			return fmt.Errorf("resolve fixtures under %s: %w", root, err)
		}
		if n > 0 {
			a.logger.Info("fixtures_resolved", "root", root, "count", n)
		}
	}
	return nil
}

// prepare resolves fixtures and discovers the bitstreams for the
// sequential modes.
func (a *app) prepare(ctx context.Context) ([]result.TestCase, error) {
	if err := a.resolveFixtures(ctx); err != nil {
		return nil, err
	}
	return orchestrator.Discover(a.cfg.TestPaths)
}

func (a *app) reportOptions(addr string) report.Options {
	return report.Options{
		Color:       !a.cfg.NoColor,
		MetricsAddr: addr,
	}
}

// =============================================================================
// Conformance
// =============================================================================

func (a *app) runConformance(ctx context.Context) int {
	collector, addr, stopMetrics, err := a.startMetrics(a.dec.Name())
	if err != nil {
		a.logger.Error("metrics_server_failed", "error", err)
		return 1
	}
	defer stopMetrics()

	opts := classifier.Options{
		NoOutputCheck:        a.cfg.NoOutputCheck,
		TolerateDecodeErrors: a.cfg.TolerateDecodeErrors,
		Timeout:              a.cfg.Timeout,
	}

	refs := oracle.Chain{oracle.NewLedger(ledger.NewStore())}
	if a.ref != nil {
		refs = append(refs, oracle.NewDecoder(a.ref, a.runner, a.cfg.Timeout, a.logger))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	tuiDone := make(chan struct{})
	if a.cfg.TUIEnabled {
		program = tea.NewProgram(tui.New(tui.Config{
			Decoder:     a.dec.Name(),
			Workers:     a.cfg.Workers,
			MetricsAddr: addr,
		}), tea.WithAltScreen())
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				a.logger.Error("tui_error", "error", err)
			}
			// Quitting the dashboard stops the run.
			cancel()
		}()
	} else {
		close(tuiDone)
	}

	orch := orchestrator.NewConformance(orchestrator.Config{
		Workers:    a.cfg.Workers,
		Options:    opts,
		Classifier: classifier.New(a.dec, a.runner, refs, opts, a.logger),
		Resolver:   a.resolver(),
		Logger:     a.logger,
		Callbacks: orchestrator.Callbacks{
			OnStart: func(total int) {
				collector.Start(total)
				tui.SendStart(program, total)
			},
			OnOutcome: func(tc result.TestCase, v classifier.Verdict) {
				collector.RecordOutcome(v.Outcome, v.Decoded, v.Duration)
				tui.SendOutcome(program, tc, v)
			},
			OnError: func(tc result.TestCase, err error) {
				collector.RecordInternalError()
				tui.SendError(program, tc, err)
			},
		},
	})

	start := time.Now()
	summary, runErr := orch.Run(ctx, a.cfg.TestPaths)
	elapsed := time.Since(start)

	percentiles := orch.Durations().Percentiles()
	collector.RecordPercentiles(percentiles)

	if program != nil {
		tui.SendDone(program)
		tui.SendQuit(program)
	}
	<-tuiDone

	if summary != nil {
		ropts := a.reportOptions(addr)
		ropts.Duration = elapsed
		ropts.Percentiles = percentiles
		if err := report.Conformance(a.out, summary, ropts); err != nil {
			a.logger.Error("report_failed", "error", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			completed, total := collector.Progress()
			a.logger.Warn("run_interrupted", "completed", completed, "total", total)
		} else {
			a.logger.Error("conformance_failed", "error", runErr)
		}
		return 1
	}
	return orchestrator.ExitCode(summary)
}

// =============================================================================
// Performance
// =============================================================================

func (a *app) newPerfRunner(collector *metrics.Collector) *perf.Runner {
	r := perf.New(a.dec, a.runner, perf.Config{
		Repeats: a.cfg.PerfRepeats,
		Timeout: a.cfg.PerfTimeout,
		NoisyCV: a.cfg.NoisyCVLimit,
	}, a.logger)
	r.OnRun = func(seq string, opts decoder.Options, fps float64) {
		collector.RecordFPS(seq, opts.Threads, opts.SIMD, fps)
	}
	return r
}

func (a *app) runPerf(ctx context.Context) int {
	collector, addr, stopMetrics, err := a.startMetrics(a.dec.Name())
	if err != nil {
		a.logger.Error("metrics_server_failed", "error", err)
		return 1
	}
	defer stopMetrics()

	cases, err := a.prepare(ctx)
	if err != nil {
		a.logger.Error("perf_failed", "error", err)
		return 1
	}

	results, err := a.newPerfRunner(collector).Throughput(ctx, cases)
	if err != nil {
		a.logger.Error("perf_failed", "error", err)
		return 1
	}
	if err := report.Perf(a.out, results, a.reportOptions(addr)); err != nil {
		a.logger.Error("report_failed", "error", err)
		return 1
	}
	return 0
}

func (a *app) runSweep(ctx context.Context) int {
	collector, _, stopMetrics, err := a.startMetrics(a.dec.Name())
	if err != nil {
		a.logger.Error("metrics_server_failed", "error", err)
		return 1
	}
	defer stopMetrics()

	cases, err := a.prepare(ctx)
	if err != nil {
		a.logger.Error("sweep_failed", "error", err)
		return 1
	}

	runs, sweepErr := a.newPerfRunner(collector).Sweep(ctx, cases)
	// Completed runs are printed even when a later run failed.
	if err := report.Sweep(a.out, runs, a.cfg.CSV); err != nil {
		a.logger.Error("report_failed", "error", err)
		return 1
	}
	if sweepErr != nil {
		a.logger.Error("sweep_failed", "error", sweepErr, "completed_runs", len(runs))
		return 1
	}
	return 0
}

// =============================================================================
// Ledger generation
// =============================================================================

func (a *app) runWriteLedger(ctx context.Context) int {
	if err := a.resolveFixtures(ctx); err != nil {
		a.logger.Error("ledger_failed", "error", err)
		return 1
	}

	writer := &orchestrator.LedgerWriter{
		Reference: a.ref,
		Runner:    a.runner,
		Workers:   a.cfg.Workers,
		Timeout:   a.cfg.Timeout,
		Logger:    a.logger,
	}
	rep, err := writer.Write(ctx, a.cfg.TestPaths)
	if rep != nil {
		if rerr := report.Ledgers(a.out, rep.Written, rep.Entries, rep.Shipped, rep.Failed); rerr != nil {
			a.logger.Error("report_failed", "error", rerr)
		}
	}
	if err != nil {
		a.logger.Error("ledger_failed", "error", err)
		return 1
	}
	return 0
}

// =============================================================================
// Corpus fetch
// =============================================================================

func (a *app) runFetch(ctx context.Context) int {
	rep, err := a.fixtureResolver().FetchCorpus(ctx, a.cfg.FetchIndex, a.cfg.TestPaths[0])
	if rep != nil {
		if rerr := report.Corpus(a.out, rep); rerr != nil {
			a.logger.Error("report_failed", "error", rerr)
		}
	}
	if err != nil {
		a.logger.Error("fetch_failed", "index", a.cfg.FetchIndex, "error", err)
		return 1
	}
	return 0
}
