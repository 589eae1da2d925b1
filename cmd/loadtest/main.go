package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
	"github.com/parkhub/sp-loadtesting/internal/report"
	"github.com/parkhub/sp-loadtesting/internal/runner"
	"github.com/parkhub/sp-loadtesting/internal/scenario"
	"github.com/parkhub/sp-loadtesting/internal/smartpass"
	"github.com/parkhub/sp-loadtesting/internal/statusserver"
	"github.com/parkhub/sp-loadtesting/pkg/config"
	"github.com/parkhub/sp-loadtesting/pkg/logger"
)

const (
	exitSetup             = 1
	exitThresholdsCrossed = 99
)

type options struct {
	scenario      string
	configPath    string
	host          string
	vus           int
	duration      time.Duration
	iterations    int
	thinkTime     time.Duration
	summaryExport string
	reportDir     string
	statusAddr    string
	list          bool
	debug         bool
	profiles      profiles
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.scenario, "scenario", "", "Scenario to run (see -list)")
	flag.StringVar(&o.configPath, "config", "", "YAML config file (overrides CONFIG_PATH env var)")
	flag.StringVar(&o.host, "host", "", "API base URL (overrides config and BASE_URL)")
	flag.IntVar(&o.vus, "vus", 0, "Run with this many constant VUs instead of the scenario executor (requires -duration)")
	flag.DurationVar(&o.duration, "duration", 0, "Duration for -vus")
	flag.IntVar(&o.iterations, "iterations", 0, "Run a shared budget of iterations instead of the scenario executor")
	flag.DurationVar(&o.thinkTime, "think-time", -1, "Replace every pause between requests (negative keeps the scenario pauses)")
	flag.StringVar(&o.summaryExport, "summary-export", "", "Write the JSON summary to file")
	flag.StringVar(&o.reportDir, "report-dir", "", "Directory for Markdown reports")
	flag.StringVar(&o.statusAddr, "status-addr", "", "Serve /health, /metrics and /progress on this address")
	flag.BoolVar(&o.list, "list", false, "List scenarios and exit")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug output (verbose logging)")

	flag.StringVar(&o.profiles.cpu, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&o.profiles.mem, "memprofile", "", "Write memory profile to file")
	flag.StringVar(&o.profiles.block, "blockprofile", "", "Write block profile to file")
	flag.StringVar(&o.profiles.mutex, "mutexprofile", "", "Write mutex profile to file")
	flag.StringVar(&o.profiles.trace, "trace", "", "Write execution trace to file")

	flag.Parse()
	return o
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(o options) int {
	if o.list {
		listScenarios()
		return 0
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		return exitSetup
	}
	if err := applyFlags(cfg, o); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid flags: %v\n", err)
		return exitSetup
	}

	runID := uuid.NewString()
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
		return exitSetup
	}
	defer logger.Sync()
	log := logger.Logger.With(zap.String("run_id", runID))

	sc, err := selectScenario(cfg.Run.Scenario, o)
	if err != nil {
		log.Error("invalid scenario", zap.Error(err))
		return exitSetup
	}
	thresholds, err := metrics.ParseThresholds(sc.Thresholds)
	if err != nil {
		log.Error("invalid thresholds", zap.String("scenario", sc.Name), zap.Error(err))
		return exitSetup
	}

	stopProfiles, err := o.profiles.start()
	defer stopProfiles()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return exitSetup
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	reg := metrics.NewRegistry()
	client := smartpass.NewClient(cfg.API.BaseURL,
		smartpass.BasicAuthHeaders(cfg.API.Username, cfg.API.Password),
		smartpass.WithHTTPClient(smartpass.NewHTTPClient(cfg.API.Timeout)),
		smartpass.WithRecorder(reg),
		smartpass.WithLogger(log),
	)

	env := scenario.Env{
		Client:   client,
		Metrics:  reg,
		TestData: cfg.TestData,
		BaseURL:  cfg.API.BaseURL,
		Logger:   log,
	}
	if o.thinkTime >= 0 {
		env.ThinkTime = &o.thinkTime
	}
	driver, err := scenario.NewDriver(sc.Flow, env)
	if err != nil {
		log.Error("failed to build driver", zap.String("flow", sc.Flow), zap.Error(err))
		return exitSetup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.Setup(ctx); err != nil {
		log.Error("setup failed", zap.Error(err))
		return exitSetup
	}

	r := runner.New(sc.Name, driver.Iterate, reg, runner.WithLogger(log))

	if cfg.Run.StatusAddr != "" {
		srv := statusserver.New(cfg.Run.StatusAddr, runID, reg, r, log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	fmt.Printf("🚀 Starting %s against %s\n", sc.Name, cfg.API.BaseURL)
	fmt.Printf("   %s\n", sc.Executor)

	started := time.Now()
	if err := r.Run(ctx, sc.Executor); err != nil {
		log.Error("run aborted", zap.Error(err))
		return exitSetup
	}
	elapsed := time.Since(started)
	driver.Teardown(context.WithoutCancel(ctx))

	results, passed, err := reg.EvaluateAll(thresholds)
	if err != nil {
		log.Error("threshold evaluation failed", zap.Error(err))
		return exitSetup
	}

	rep := report.Report{
		RunID:      runID,
		Scenario:   sc.Name,
		Executor:   sc.Executor.String(),
		Host:       cfg.API.BaseURL,
		StartedAt:  started,
		Duration:   elapsed,
		Metrics:    reg.Snapshot(),
		Thresholds: results,
		Passed:     passed,
		System:     report.CaptureSystem(),
	}
	report.PrintSummary(os.Stdout, rep)

	if cfg.Run.ReportDir != "" {
		path, err := report.WriteMarkdown(cfg.Run.ReportDir, rep)
		if err != nil {
			log.Error("failed to write report", zap.Error(err))
		} else {
			fmt.Printf("📝 Report written to: %s\n", path)
		}
	}
	if cfg.Run.SummaryExport != "" {
		if err := report.ExportJSON(cfg.Run.SummaryExport, rep); err != nil {
			log.Error("failed to export summary", zap.Error(err))
		} else {
			fmt.Printf("📝 Summary exported to: %s\n", cfg.Run.SummaryExport)
		}
	}

	if !passed {
		return exitThresholdsCrossed
	}
	return 0
}

// applyFlags layers command line values over the loaded config and validates
// the result.
func applyFlags(cfg *config.Config, o options) error {
	if o.host != "" {
		cfg.API.BaseURL = o.host
	}
	if o.scenario != "" {
		cfg.Run.Scenario = o.scenario
	}
	if o.reportDir != "" {
		cfg.Run.ReportDir = o.reportDir
	}
	if o.summaryExport != "" {
		cfg.Run.SummaryExport = o.summaryExport
	}
	if o.statusAddr != "" {
		cfg.Run.StatusAddr = o.statusAddr
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg.Validate()
}

func selectScenario(name string, o options) (scenario.Scenario, error) {
	sc, err := scenario.Lookup(name)
	if err != nil {
		return sc, err
	}
	switch {
	case o.iterations > 0:
		vus := o.vus
		if vus <= 0 {
			vus = 1
		}
		sc = sc.WithIterations(vus, o.iterations)
	case o.vus > 0:
		if o.duration <= 0 {
			return sc, errors.New("-vus requires a positive -duration")
		}
		sc = sc.WithConstantVUs(o.vus, o.duration)
	}
	return sc, sc.Executor.Validate()
}

func listScenarios() {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tFLOW\tEXECUTOR\tDESCRIPTION")
	for _, sc := range scenario.Catalog() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sc.Name, sc.Flow, sc.Executor, sc.Description)
	}
	w.Flush()
}
