package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	if regOK.Load() {
		t.Skip("collectors already registered by another test")
	}
	// none of these may panic or record while unregistered
	IncStart("x")
	IncRestart("x")
	IncStop("x")
	IncFailure("x")
	SetCurrentState("x", "running", true)
	IncProbeFailure("x")
	SetHealthState("x", "healthy", true)
}

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// second call is a no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}

	IncStart("frontend")
	IncStart("frontend")
	IncRestart("frontend")
	IncFailure("frontend")
	SetCurrentState("frontend", "running", true)
	IncProbeFailure("frontend")
	SetHealthState("frontend", "degraded", true)

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"starts", testutil.ToFloat64(processStarts.WithLabelValues("frontend")), 2},
		{"restarts", testutil.ToFloat64(processRestarts.WithLabelValues("frontend")), 1},
		{"failures", testutil.ToFloat64(processFailures.WithLabelValues("frontend")), 1},
		{"current state", testutil.ToFloat64(currentStates.WithLabelValues("frontend", "running")), 1},
		{"probe failures", testutil.ToFloat64(probeFailures.WithLabelValues("frontend")), 1},
		{"health state", testutil.ToFloat64(healthState.WithLabelValues("frontend", "degraded")), 1},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	SetCurrentState("frontend", "running", false)
	if v := testutil.ToFloat64(currentStates.WithLabelValues("frontend", "running")); v != 0 {
		t.Errorf("current state after clear = %v, want 0", v)
	}
}

func TestHandlerServes(t *testing.T) {
	if Handler() == nil {
		t.Fatal("Handler returned nil")
	}
}
