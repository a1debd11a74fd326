//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/botgate/internal/process"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func shSpec(name, script string, policy process.RestartPolicy, deps ...string) process.Spec {
	return process.Spec{
		Name:      name,
		Args:      []string{"/bin/sh", "-c", script},
		Policy:    policy,
		DependsOn: deps,
	}
}

func statusByName(s *Supervisor, name string) (process.Status, bool) {
	for _, st := range s.Statuses() {
		if st.Name == name {
			return st, true
		}
	}
	return process.Status{}, false
}

func TestRegisterValidation(t *testing.T) {
	s := New(Options{})
	if err := s.Register(process.Spec{Name: "bad"}); err == nil {
		t.Error("expected validation error for spec without command")
	}
	if err := s.Register(shSpec("web", "sleep 30", process.RestartNever)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(shSpec("web", "sleep 30", process.RestartNever)); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate Register error = %v, want ErrDuplicateName", err)
	}
}

func TestRegisterAfterStartRejected(t *testing.T) {
	s := New(Options{StopGrace: time.Second})
	if err := s.Register(shSpec("web", "sleep 30", process.RestartNever)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Register(shSpec("late", "sleep 1", process.RestartNever)); err == nil {
		t.Error("expected error registering after Start")
	}
}

func TestStartCyclicGraphStartsNothing(t *testing.T) {
	s := New(Options{})
	_ = s.Register(shSpec("a", "sleep 30", process.RestartNever, "b"))
	_ = s.Register(shSpec("b", "sleep 30", process.RestartNever, "a"))
	if err := s.Start(); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Start error = %v, want ErrCyclicDependency", err)
	}
	for _, st := range s.Statuses() {
		if st.State != "pending" {
			t.Errorf("process %s state = %s, want pending", st.Name, st.State)
		}
		if st.PID != 0 {
			t.Errorf("process %s has pid %d despite rejected graph", st.Name, st.PID)
		}
	}
}

func TestStartHonorsDependencyOrder(t *testing.T) {
	s := New(Options{StopGrace: time.Second})
	_ = s.Register(shSpec("worker", "sleep 30", process.RestartNever, "frontend"))
	_ = s.Register(shSpec("frontend", "sleep 30", process.RestartNever))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	sts := s.Statuses()
	if len(sts) != 2 {
		t.Fatalf("statuses length = %d", len(sts))
	}
	if sts[0].Name != "frontend" || sts[1].Name != "worker" {
		t.Fatalf("start order = [%s %s], want [frontend worker]", sts[0].Name, sts[1].Name)
	}
	for _, st := range sts {
		if st.State != "running" {
			t.Errorf("process %s state = %s, want running", st.Name, st.State)
		}
	}
	if sts[1].StartedAt.Before(sts[0].StartedAt) {
		t.Error("worker started before its dependency")
	}
}

func TestCleanExitWithNeverPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{})
	_ = s.Register(shSpec("oneshot", "exit 0", process.RestartNever))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	waitFor(t, 5*time.Second, func() bool {
		st, ok := statusByName(s, "oneshot")
		return ok && st.State == "exited"
	})
	if n := s.FailedCount(); n != 0 {
		t.Errorf("FailedCount = %d, want 0", n)
	}
}

func TestCrashWithNeverPolicyFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{})
	_ = s.Register(shSpec("crasher", "exit 7", process.RestartNever))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	select {
	case name := <-s.Fatal():
		if name != "crasher" {
			t.Errorf("fatal name = %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal report")
	}
	st, _ := statusByName(s, "crasher")
	if st.State != "failed" {
		t.Errorf("state = %s, want failed", st.State)
	}
	if st.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", st.ExitCode)
	}
	if n := s.FailedCount(); n != 1 {
		t.Errorf("FailedCount = %d, want 1", n)
	}
}

func TestRestartBudgetExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		MaxRestarts: 2,
	})
	_ = s.Register(shSpec("flappy", "exit 1", process.RestartAlways))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	select {
	case name := <-s.Fatal():
		if name != "flappy" {
			t.Errorf("fatal name = %q", name)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no fatal report after budget exhaustion")
	}

	st, _ := statusByName(s, "flappy")
	if st.State != "failed" {
		t.Errorf("state = %s, want failed", st.State)
	}
	if st.Restarts != 2 {
		t.Errorf("restarts = %d, want 2", st.Restarts)
	}
	if !strings.Contains(st.LastErr, "restart budget exhausted") {
		t.Errorf("last error = %q", st.LastErr)
	}
}

func TestSpawnFailuresAfterStableRunExhaustBudget(t *testing.T) {
	// The binary runs past the stability window once, then removes itself so
	// every restart fails at spawn. Those spawn failures must consume the
	// restart budget and end in Failed, not loop at the base delay forever.
	dir := t.TempDir()
	script := filepath.Join(dir, "vanishing.sh")
	body := "#!/bin/sh\nsleep 0.15\nrm -f \"$0\"\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		BackoffBase:     5 * time.Millisecond,
		MaxRestarts:     2,
		StabilityWindow: 50 * time.Millisecond,
	})
	_ = s.Register(process.Spec{Name: "vanishing", Args: []string{script}, Policy: process.RestartAlways})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	select {
	case name := <-s.Fatal():
		if name != "vanishing" {
			t.Errorf("fatal name = %q", name)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no fatal report; spawn failures did not exhaust the restart budget")
	}

	st, _ := statusByName(s, "vanishing")
	if st.State != "failed" {
		t.Errorf("state = %s, want failed", st.State)
	}
	if !strings.Contains(st.LastErr, "restart budget exhausted") {
		t.Errorf("last error = %q", st.LastErr)
	}
	if st.Restarts != 0 {
		t.Errorf("restarts = %d, want 0 (no spawn ever succeeded again)", st.Restarts)
	}
}

func TestRestartWaitsForDependency(t *testing.T) {
	// Both crash once, then run long (flag file marks the second run). The
	// worker's backoff fires while the frontend is still down; its restart
	// must wait until the frontend is Running again.
	dir := t.TempDir()
	feFlag := filepath.Join(dir, "fe.flag")
	wkFlag := filepath.Join(dir, "wk.flag")
	feScript := "if [ -e " + feFlag + " ]; then sleep 30; else touch " + feFlag + "; sleep 0.25; exit 1; fi"
	wkScript := "if [ -e " + wkFlag + " ]; then sleep 30; else touch " + wkFlag + "; exit 1; fi"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		BackoffBase: 300 * time.Millisecond,
		MaxRestarts: 100,
		StopGrace:   time.Second,
	})
	_ = s.Register(shSpec("frontend", feScript, process.RestartAlways))
	_ = s.Register(shSpec("worker", wkScript, process.RestartAlways, "frontend"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)
	defer s.Stop()

	// worker crashes first (~immediately), frontend at ~250ms; the worker's
	// timer fires at ~300ms, inside the frontend's down window
	waitFor(t, 10*time.Second, func() bool {
		w, _ := statusByName(s, "worker")
		if w.State != "running" || w.Restarts < 1 {
			return false
		}
		f, _ := statusByName(s, "frontend")
		if f.State != "running" {
			t.Fatalf("worker restarted while frontend is %s", f.State)
		}
		return true
	})
}

func TestCrashTriggersRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		BackoffBase: 5 * time.Millisecond,
		MaxRestarts: 100,
	})
	// crashes once per run, so the supervisor keeps bringing it back
	_ = s.Register(shSpec("flappy", "exit 1", process.RestartAlways))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	waitFor(t, 5*time.Second, func() bool {
		st, ok := statusByName(s, "flappy")
		return ok && st.Restarts >= 1
	})
}

func TestStopCancelsPendingRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		BackoffBase: 10 * time.Minute, // restart must still be pending when Stop runs
		MaxRestarts: 5,
		StopGrace:   time.Second,
	})
	_ = s.Register(shSpec("flappy", "exit 1", process.RestartAlways))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	waitFor(t, 5*time.Second, func() bool {
		st, ok := statusByName(s, "flappy")
		return ok && st.State == "exited"
	})
	s.Stop()
	cancel()

	time.Sleep(50 * time.Millisecond)
	st, _ := statusByName(s, "flappy")
	if st.State != "exited" {
		t.Errorf("state after Stop = %s, want exited", st.State)
	}
	if st.Restarts != 0 {
		t.Errorf("restarts after Stop = %d, want 0", st.Restarts)
	}
}

func TestStopReapsRunningChildren(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{StopGrace: 2 * time.Second})
	_ = s.Register(shSpec("frontend", "sleep 30", process.RestartAlways))
	_ = s.Register(shSpec("worker", "sleep 30", process.RestartAlways, "frontend"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go s.Run(ctx)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Stop did not return")
	}
	for _, st := range s.Statuses() {
		if st.State != "exited" {
			t.Errorf("process %s state after Stop = %s, want exited", st.Name, st.State)
		}
	}
	if n := s.FailedCount(); n != 0 {
		t.Errorf("FailedCount after graceful stop = %d, want 0", n)
	}
}
