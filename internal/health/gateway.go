package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/botgate/internal/metrics"
)

// State classifies the probed component.
type State int

const (
	Healthy State = iota
	Degraded
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Report is the latest aggregate probe result. Rebuilt each cycle, never
// persisted.
type Report struct {
	Component        string    `json:"component"`
	State            string    `json:"state"`
	LastChecked      time.Time `json:"last_checked"`
	ConsecutiveFails int       `json:"consecutive_failures"`
}

const (
	DefaultInterval  = 10 * time.Second
	DefaultThreshold = 3
)

// Gateway probes one readiness endpoint on a fixed interval and keeps the
// latest classification: Healthy on success, Degraded after one failure,
// Unhealthy once failures reach the threshold. A single success resets the
// counter. Current never blocks.
type Gateway struct {
	component string
	target    string
	interval  time.Duration
	threshold int
	client    *http.Client

	mu    sync.RWMutex
	state State
	fails int
	last  time.Time
}

func New(component, target string, interval time.Duration, threshold int) *Gateway {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gateway{
		component: component,
		target:    target,
		interval:  interval,
		threshold: threshold,
		client:    &http.Client{Timeout: interval},
	}
}

// Run is the probe loop. It probes once immediately, then on every tick,
// and returns when ctx is canceled. In-flight probes observe cancellation
// through the request context.
func (g *Gateway) Run(ctx context.Context) {
	g.probe(ctx)
	t := time.NewTicker(g.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.probe(ctx)
		}
	}
}

func (g *Gateway) probe(ctx context.Context) {
	err := g.check(ctx)
	if ctx.Err() != nil {
		return
	}

	g.mu.Lock()
	g.last = time.Now()
	if err == nil {
		g.fails = 0
		g.setStateLocked(Healthy)
	} else {
		g.fails++
		metrics.IncProbeFailure(g.component)
		if g.fails >= g.threshold {
			g.setStateLocked(Unhealthy)
		} else {
			g.setStateLocked(Degraded)
		}
	}
	g.mu.Unlock()
}

func (g *Gateway) setStateLocked(s State) {
	if g.state != s {
		metrics.SetHealthState(g.component, g.state.String(), false)
	}
	g.state = s
	metrics.SetHealthState(g.component, s.String(), true)
}

func (g *Gateway) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.target, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: unexpected status %d", g.target, resp.StatusCode)
	}
	return nil
}

// Current returns the latest report; it never blocks on a probe in flight.
func (g *Gateway) Current() Report {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Report{
		Component:        g.component,
		State:            g.state.String(),
		LastChecked:      g.last,
		ConsecutiveFails: g.fails,
	}
}

// Unhealthy reports whether the component crossed the failure threshold.
func (g *Gateway) Unhealthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == Unhealthy
}
