package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/botgate/internal/env"
	"github.com/loykin/botgate/internal/history"
	"github.com/loykin/botgate/internal/metrics"
	"github.com/loykin/botgate/internal/process"
)

// Options tunes the supervision policy shared by all managed processes.
type Options struct {
	BackoffBase     time.Duration // first restart delay (default 500ms)
	BackoffMax      time.Duration // backoff cap (default 30s)
	MaxRestarts     int           // attempts within a stability window before Failed (default 5)
	StabilityWindow time.Duration // sustained Running run that resets the attempt counter (default 30s)
	StopGrace       time.Duration // SIGTERM->SIGKILL escalation window (default 10s)
	Env             *env.Env
	Sinks           []history.Sink
	Logger          *slog.Logger
}

type entry struct {
	spec         process.Spec
	proc         *process.Process
	state        process.State
	reason       string // set when state == StateFailed
	boff         backoff
	restarts     int
	startedOnce  bool
	runningSince time.Time
	lastExit     process.ExitEvent
	timer        *time.Timer // pending backoff restart
}

// Supervisor owns the ManagedProcess registry and the authoritative state
// table; both are mutated only under mu, and only by supervisor methods.
// Exit events from per-process monitor goroutines arrive through the single
// ordered exits channel.
type Supervisor struct {
	mu       sync.Mutex
	opts     Options
	log      *slog.Logger
	entries  map[string]*entry
	order    []string // topological start order, fixed by Start
	exits    chan process.ExitEvent
	restarts chan string
	fatal    chan string
	started  bool
	stopping bool
}

func New(opts Options) *Supervisor {
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = 5
	}
	if opts.StabilityWindow <= 0 {
		opts.StabilityWindow = 30 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.Env == nil {
		opts.Env = env.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		opts:     opts,
		log:      opts.Logger,
		entries:  make(map[string]*entry),
		exits:    make(chan process.ExitEvent, 64),
		restarts: make(chan string, 64),
		fatal:    make(chan string, 16),
	}
}

// Register adds a process definition. It must be called before Start.
func (s *Supervisor) Register(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot register %s: supervisor already started", spec.Name)
	}
	if _, ok := s.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
	}
	s.entries[spec.Name] = &entry{
		spec:  *spec.DeepCopy(),
		state: process.StatePending,
		boff:  newBackoff(s.opts.BackoffBase, s.opts.BackoffMax),
	}
	return nil
}

// Start validates the dependency graph and launches all registered processes
// in dependency order. A graph error starts nothing. Individual spawn
// failures are not returned here; they go through the restart policy like
// any other failure.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	specs := make(map[string]process.Spec, len(s.entries))
	for n, e := range s.entries {
		specs[n] = e.spec
	}
	order, err := topoSort(specs)
	if err != nil {
		return err
	}
	s.order = order
	s.started = true
	s.startEligibleLocked()
	return nil
}

// startEligibleLocked starts, in topological order, every pending process
// whose dependencies all report Running.
func (s *Supervisor) startEligibleLocked() {
	for _, name := range s.order {
		e := s.entries[name]
		if e.state != process.StatePending {
			continue
		}
		if !s.depsRunningLocked(e) {
			continue
		}
		s.startLocked(name)
	}
}

func (s *Supervisor) depsRunningLocked(e *entry) bool {
	for _, d := range e.spec.DependsOn {
		if s.entries[d].state != process.StateRunning {
			return false
		}
	}
	return true
}

func (s *Supervisor) startLocked(name string) {
	e := s.entries[name]
	e.state = process.StateStarting
	e.proc = process.New(e.spec)
	merged := s.opts.Env.Merge(e.spec.Env)

	if err := e.proc.Start(merged, s.exits); err != nil {
		s.log.Error("process start failed", "name", name, "error", err)
		e.lastExit = process.ExitEvent{Name: name, ExitCode: -1, Err: err, At: time.Now()}
		// no run happened; a failed spawn must not count as a stable run
		e.runningSince = time.Time{}
		s.applyPolicyLocked(e, true)
		return
	}
	if e.startedOnce {
		e.restarts++
		metrics.IncRestart(name)
	}
	e.startedOnce = true
	e.state = process.StateRunning
	e.runningSince = time.Now()
	metrics.IncStart(name)
	metrics.SetCurrentState(name, process.StateRunning.String(), true)
	s.record(history.EventStart, name, e.proc.PID(), 0, "")
	s.log.Info("process running", "name", name, "pid", e.proc.PID(), "restarts", e.restarts)
}

// Run is the blocking supervision loop. It consumes exit events and fired
// backoff timers until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.exits:
			s.mu.Lock()
			s.handleExitLocked(ev)
			s.mu.Unlock()
		case name := <-s.restarts:
			s.mu.Lock()
			if !s.stopping {
				if e, ok := s.entries[name]; ok && e.state == process.StateExited {
					if s.depsRunningLocked(e) {
						s.startLocked(name)
						s.startEligibleLocked()
					} else {
						// dependency is down; park the entry and let
						// startEligibleLocked pick it up when the
						// dependency is Running again
						metrics.SetCurrentState(name, e.state.String(), false)
						e.state = process.StatePending
						metrics.SetCurrentState(name, e.state.String(), true)
						s.log.Info("restart deferred until dependencies run", "name", name)
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) handleExitLocked(ev process.ExitEvent) {
	e, ok := s.entries[ev.Name]
	if !ok {
		return
	}
	e.lastExit = ev
	metrics.IncStop(ev.Name)
	metrics.SetCurrentState(ev.Name, process.StateRunning.String(), false)
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	s.record(history.EventStop, ev.Name, e.proc.PID(), ev.ExitCode, detail)

	if s.stopping || e.proc.StopRequested() {
		e.state = process.StateExited
		metrics.SetCurrentState(ev.Name, e.state.String(), true)
		return
	}
	failed := ev.ExitCode != 0 || ev.Err != nil
	s.log.Warn("process exited unexpectedly", "name", ev.Name, "exit_code", ev.ExitCode, "error", ev.Err)
	s.applyPolicyLocked(e, failed)
}

// applyPolicyLocked decides what an unexpected exit means for one process.
// The policy enum is closed; every arm is spelled out.
func (s *Supervisor) applyPolicyLocked(e *entry, failed bool) {
	switch e.spec.Policy {
	case process.RestartNever:
		if failed {
			s.failLocked(e, "exited with failure and restart policy is never")
			return
		}
		e.state = process.StateExited
		metrics.SetCurrentState(e.spec.Name, e.state.String(), true)
	case process.RestartOnFailure:
		if !failed {
			e.state = process.StateExited
			metrics.SetCurrentState(e.spec.Name, e.state.String(), true)
			return
		}
		s.scheduleRestartLocked(e)
	case process.RestartAlways:
		s.scheduleRestartLocked(e)
	}
}

func (s *Supervisor) scheduleRestartLocked(e *entry) {
	// A sustained healthy run resets the attempt counter. The duration is
	// measured over the run that just ended, not wall clock since the last
	// successful start, so repeated spawn failures keep consuming the budget.
	if !e.runningSince.IsZero() && e.lastExit.At.Sub(e.runningSince) >= s.opts.StabilityWindow {
		e.boff.reset()
	}
	if e.boff.tries() >= s.opts.MaxRestarts {
		s.failLocked(e, fmt.Sprintf("restart budget exhausted after %d attempts", e.boff.tries()))
		return
	}
	delay := e.boff.next()
	e.state = process.StateExited
	metrics.SetCurrentState(e.spec.Name, e.state.String(), true)
	name := e.spec.Name
	s.log.Info("scheduling restart", "name", name, "delay", delay, "attempt", e.boff.tries())
	e.timer = time.AfterFunc(delay, func() {
		select {
		case s.restarts <- name:
		default:
			// channel saturated during shutdown; the restart is moot
		}
	})
}

func (s *Supervisor) failLocked(e *entry, reason string) {
	e.state = process.StateFailed
	e.reason = reason
	metrics.IncFailure(e.spec.Name)
	metrics.SetCurrentState(e.spec.Name, e.state.String(), true)
	pid := 0
	if e.proc != nil {
		pid = e.proc.PID()
	}
	s.record(history.EventFail, e.spec.Name, pid, e.lastExit.ExitCode, reason)
	s.log.Error("process failed permanently", "name", e.spec.Name, "reason", reason)
	select {
	case s.fatal <- e.spec.Name:
	default:
	}
}

// Fatal reports names of processes that ended Failed. The orchestrator
// treats a report as a drain trigger; the supervisor itself keeps running.
func (s *Supervisor) Fatal() <-chan string { return s.fatal }

// Stop terminates all managed processes in reverse dependency order:
// SIGTERM first, SIGKILL for stragglers after the grace period. It cancels
// pending backoff restarts and returns only after every child is reaped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	order := make([]string, len(s.order))
	copy(order, s.order)
	grace := s.opts.StopGrace
	s.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		s.mu.Lock()
		e := s.entries[order[i]]
		proc := e.proc
		s.mu.Unlock()
		if proc == nil || !proc.Running() {
			continue
		}
		s.log.Info("stopping process", "name", order[i])
		proc.Stop(grace)
		s.mu.Lock()
		if e.state != process.StateFailed {
			e.state = process.StateExited
		}
		s.mu.Unlock()
	}
}

// Statuses returns read-only snapshots in start order.
func (s *Supervisor) Statuses() []process.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := s.order
	if len(names) == 0 {
		names = make([]string, 0, len(s.entries))
		for n := range s.entries {
			names = append(names, n)
		}
	}
	out := make([]process.Status, 0, len(names))
	for _, n := range names {
		e := s.entries[n]
		st := process.Status{
			Name:     n,
			State:    e.state.String(),
			Restarts: e.restarts,
			ExitCode: e.lastExit.ExitCode,
		}
		if e.proc != nil {
			st.PID = e.proc.PID()
			st.StartedAt = e.proc.StartedAt()
		}
		if !e.lastExit.At.IsZero() {
			st.StoppedAt = e.lastExit.At
		}
		if e.state == process.StateFailed {
			st.LastErr = e.reason
		} else if e.lastExit.Err != nil {
			st.LastErr = e.lastExit.Err.Error()
		}
		out = append(out, st)
	}
	return out
}

// FailedCount reports how many processes ended in Failed state.
func (s *Supervisor) FailedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.state == process.StateFailed {
			n++
		}
	}
	return n
}

func (s *Supervisor) record(t history.EventType, name string, pid, exitCode int, detail string) {
	if len(s.opts.Sinks) == 0 {
		return
	}
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Name: name, PID: pid, ExitCode: exitCode, Detail: detail}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sink := range s.opts.Sinks {
		if err := sink.Send(ctx, evt); err != nil {
			s.log.Debug("history sink error", "error", err)
		}
	}
}
