package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botgate/internal/health"
	"github.com/loykin/botgate/internal/metrics"
	"github.com/loykin/botgate/internal/supervisor"
)

// Router exposes the local control surface:
//
//	GET /healthz  aggregate health (503 when unhealthy)
//	GET /status   health report plus process snapshots
//	GET /metrics  Prometheus exposition
type Router struct {
	sup *supervisor.Supervisor
	hg  *health.Gateway
}

func NewRouter(sup *supervisor.Supervisor, hg *health.Gateway) *Router {
	return &Router{sup: sup, hg: hg}
}

// Handler returns a gin-powered http.Handler mountable in any server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealthz)
	g.GET("/status", r.handleStatus)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone control server on addr. A listen failure
// (address in use, bad bind) is logged; the daemon keeps running without a
// control surface.
func NewServer(addr string, sup *supervisor.Supervisor, hg *health.Gateway, log *slog.Logger) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	r := NewRouter(sup, hg)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control server error", "addr", addr, "error", err)
		}
	}()
	return srv
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Health    health.Report   `json:"health"`
	Processes []ProcessStatus `json:"processes"`
}

// ProcessStatus mirrors process.Status for the wire.
type ProcessStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	Restarts  int       `json:"restarts"`
	LastErr   string    `json:"last_error,omitempty"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	rep := r.hg.Current()
	code := http.StatusOK
	if r.hg.Unhealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, rep)
}

func (r *Router) handleStatus(c *gin.Context) {
	sts := r.sup.Statuses()
	out := StatusResponse{Health: r.hg.Current(), Processes: make([]ProcessStatus, 0, len(sts))}
	for _, st := range sts {
		out.Processes = append(out.Processes, ProcessStatus{
			Name:      st.Name,
			State:     st.State,
			PID:       st.PID,
			StartedAt: st.StartedAt,
			StoppedAt: st.StoppedAt,
			ExitCode:  st.ExitCode,
			Restarts:  st.Restarts,
			LastErr:   st.LastErr,
		})
	}
	c.JSON(http.StatusOK, out)
}
