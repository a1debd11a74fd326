package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/botgate/internal/config"
	"github.com/loykin/botgate/internal/env"
	"github.com/loykin/botgate/internal/health"
	"github.com/loykin/botgate/internal/history"
	"github.com/loykin/botgate/internal/history/factory"
	"github.com/loykin/botgate/internal/logger"
	"github.com/loykin/botgate/internal/metrics"
	"github.com/loykin/botgate/internal/process"
	"github.com/loykin/botgate/internal/server"
	"github.com/loykin/botgate/internal/supervisor"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitConfigError   = 1
	ExitProcessFailed = 2
)

// Phase is the orchestrator lifecycle:
// Initializing -> Running -> Draining -> Terminated.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Names of the built-in managed processes.
const (
	FrontendName = "frontend"
	WorkerName   = "worker"
)

// Orchestrator wires config -> supervisor -> health gateway -> control
// server and drives an ordered shutdown on SIGINT/SIGTERM or a fatal
// supervisor report.
type Orchestrator struct {
	cfg   *config.Config
	log   *slog.Logger
	phase Phase
}

func New(cfg *config.Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// Run blocks until a termination signal or a fatal report, then drains.
// The return value is the process exit code.
func (o *Orchestrator) Run(ctx context.Context) int {
	cfg := o.cfg

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		o.log.Warn("metrics registration failed", "error", err)
	}

	var sinks []history.Sink
	if cfg.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			// History is observability, not control: run without it.
			o.log.Warn("history sink unavailable", "dsn", cfg.HistoryDSN, "error", err)
		} else {
			sinks = append(sinks, sink)
			defer func() { _ = sink.Close() }()
		}
	}

	e := env.New()
	e.FromOS()

	sup := supervisor.New(supervisor.Options{
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		MaxRestarts:     cfg.MaxRestarts,
		StabilityWindow: cfg.StabilityWindow,
		StopGrace:       cfg.StopGrace,
		Env:             e,
		Sinks:           sinks,
		Logger:          o.log,
	})

	for _, spec := range o.buildSpecs() {
		if err := sup.Register(spec); err != nil {
			o.log.Error("process registration failed", "name", spec.Name, "error", err)
			return ExitConfigError
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(); err != nil {
		o.log.Error("supervisor start failed", "error", err)
		return ExitConfigError
	}
	o.setPhase(PhaseRunning)

	hg := health.New(FrontendName, cfg.ProbeURL, cfg.ProbeInterval, cfg.ProbeFailureThreshold)
	go hg.Run(ctx)

	srv := server.NewServer(cfg.ControlListen, sup, hg, o.log)
	o.log.Info("control surface listening", "addr", cfg.ControlListen)

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	select {
	case <-ctx.Done():
		o.log.Info("termination signal received")
	case name := <-sup.Fatal():
		o.log.Error("managed process failed beyond restart budget", "name", name)
	}

	// Ordered shutdown: stop probes and the control surface first, then the
	// children, so /status never reports half-stopped state as live.
	o.setPhase(PhaseDraining)
	stop()
	<-supDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sup.Stop()
	o.setPhase(PhaseTerminated)

	if sup.FailedCount() > 0 {
		return ExitProcessFailed
	}
	return ExitOK
}

func (o *Orchestrator) setPhase(p Phase) {
	o.log.Info("orchestrator phase", "from", o.phase.String(), "to", p.String())
	o.phase = p
}

// buildSpecs assembles the front-end and worker definitions plus any extra
// processes from the config file. The worker depends on the front-end and
// reaches it via TELEGRAM_API_URL.
func (o *Orchestrator) buildSpecs() []process.Spec {
	cfg := o.cfg
	childLogDir := filepath.Join(cfg.DataDir, "logs")

	frontend := process.Spec{
		Name: FrontendName,
		Args: append(append([]string(nil), cfg.FrontendCommand...),
			fmt.Sprintf("--api-id=%d", cfg.APIID),
			"--api-hash="+cfg.APIHash,
			"--http-ip-address="+cfg.HTTPIPAddress,
			fmt.Sprintf("--http-port=%d", cfg.HTTPPort),
			"--dir="+cfg.DataDir,
		),
		Policy: process.RestartAlways,
		Log:    logger.Config{File: logger.FileConfig{Dir: childLogDir}},
	}
	specs := []process.Spec{frontend}

	if len(cfg.WorkerCommand) > 0 {
		specs = append(specs, process.Spec{
			Name:      WorkerName,
			Args:      append([]string(nil), cfg.WorkerCommand...),
			Env:       map[string]string{"TELEGRAM_API_URL": cfg.TelegramAPIURL},
			Policy:    process.RestartAlways,
			DependsOn: []string{FrontendName},
			Log:       logger.Config{File: logger.FileConfig{Dir: childLogDir}},
		})
	}
	specs = append(specs, cfg.Processes...)
	return specs
}
