package app

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/bissquit/incident-escalator/internal/pkg/ctxlog"
	"github.com/bissquit/incident-escalator/internal/pkg/httputil"
	"github.com/bissquit/incident-escalator/internal/pkg/metrics"
	"github.com/bissquit/incident-escalator/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// pinger is a dependency checked by the readiness check.
type pinger interface {
	Ping(ctx context.Context) error
}

type readinessResponse struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks"`
	LastIngest *time.Time        `json:"last_ingest,omitempty"`
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readinessResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK

	for _, name := range names {
		if err := a.checks[name].Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			metrics.ReadinessCheck.WithLabelValues(name).Set(0)
			continue
		}
		resp.Checks[name] = "ok"
		metrics.ReadinessCheck.WithLabelValues(name).Set(1)
	}

	if a.ingest != nil {
		if last := a.ingest.LastSuccess(); !last.IsZero() {
			resp.LastIngest = &last
		}
	}

	httputil.JSON(w, status, resp)
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}
