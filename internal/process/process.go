package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

var ErrAlreadyRunning = errors.New("process already running")

// Process owns a single run of an OS-level child. The supervisor creates a
// fresh Process per run; at most one live child exists per instance.
type Process struct {
	spec      Spec
	mu        sync.Mutex
	cmd       *exec.Cmd
	running   bool
	stopping  bool // Stop requested; the exit must not trigger a restart
	pid       int
	startedAt time.Time
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the monitor when cmd.Wait returns
}

func New(spec Spec) *Process { return &Process{spec: spec} }

func (p *Process) Spec() Spec { return *p.spec.DeepCopy() }

// Start spawns the child in its own process group and launches the monitor
// goroutine. The monitor reaps the child and delivers exactly one ExitEvent
// to exits. mergedEnv is the fully composed "K=V" environment.
func (p *Process) Start(mergedEnv []string, exits chan<- ExitEvent) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	spec := p.spec
	p.mu.Unlock()

	// ok: argv comes from validated configuration
	// #nosec G204
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = sysProcAttr()
	p.wireStdio(cmd, spec)

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.running = true
	p.stopping = false
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.waitDone = make(chan struct{})
	wd := p.waitDone
	p.mu.Unlock()

	go p.monitor(cmd, wd, exits)
	return nil
}

// monitor is the single waiter for this run.
func (p *Process) monitor(cmd *exec.Cmd, wd chan struct{}, exits chan<- ExitEvent) {
	err := cmd.Wait()
	code := 0
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.closeWriters()
	close(wd)

	exits <- ExitEvent{Name: p.spec.Name, ExitCode: code, Err: err, At: time.Now()}
}

func (p *Process) wireStdio(cmd *exec.Cmd, spec Spec) {
	if spec.Log.File.Dir != "" || spec.Log.File.StdoutPath != "" || spec.Log.File.StderrPath != "" {
		if spec.Log.File.Dir != "" {
			_ = os.MkdirAll(spec.Log.File.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		p.mu.Lock()
		p.outCloser, p.errCloser = outW, errW
		p.mu.Unlock()
		cmd.Stdout = outW
		cmd.Stderr = errW
		return
	}
	null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	cmd.Stdout = null
	cmd.Stderr = null
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}

// Stop terminates the child gracefully: SIGTERM to the process group, then
// SIGKILL once grace elapses. It returns after the monitor has reaped the
// child, so no zombie survives a completed Stop.
func (p *Process) Stop(grace time.Duration) {
	p.mu.Lock()
	p.stopping = true
	running := p.running
	pid := p.pid
	wd := p.waitDone
	p.mu.Unlock()

	if !running || pid == 0 || wd == nil {
		return
	}
	_ = terminate(pid)
	select {
	case <-wd:
		return
	case <-time.After(grace):
	}
	_ = kill(pid)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
		// best-effort; the monitor will still reap eventually
	}
}

func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}
