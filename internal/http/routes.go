package httpx

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/service"
	"github.com/relaydesk/relaydesk/internal/session"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sessions   *session.Manager
	Status     *service.StatusService
	Pipeline   *delivery.Pipeline
	Sweeper    *service.SweeperService
	Workspaces core.WorkspaceRepository
	Reports    core.ReportRepository
	Logger     *slog.Logger // Optional: request logging
}

// NewRouter creates and configures the operator API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	sessionHandlers := &SessionHandlers{
		Sessions:   services.Sessions,
		Status:     services.Status,
		Workspaces: services.Workspaces,
	}
	sendHandlers := &SendHandlers{
		Pipeline:   services.Pipeline,
		Workspaces: services.Workspaces,
		Reports:    services.Reports,
	}
	scheduledHandlers := &ScheduledHandlers{Svc: services.Sweeper}

	mux.HandleFunc("POST /api/workspaces/{id}/session/start", sessionHandlers.Start)
	mux.HandleFunc("POST /api/workspaces/{id}/session/stop", sessionHandlers.Stop)
	mux.HandleFunc("GET /api/workspaces/{id}/session/status", sessionHandlers.GetStatus)

	mux.HandleFunc("POST /api/workspaces/{id}/send", sendHandlers.SendBulk)
	mux.HandleFunc("GET /api/workspaces/{id}/reports", sendHandlers.ListReports)

	mux.HandleFunc("POST /api/scheduled-messages", scheduledHandlers.Create)
	mux.HandleFunc("GET /api/workspaces/{id}/scheduled-messages", scheduledHandlers.List)
	mux.HandleFunc("POST /api/scheduled-messages/{id}/cancel", scheduledHandlers.Cancel)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = requestLogger(services.Logger, handler)
	}
	return handler
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
		)
	})
}

// parseIntQuery reads an integer query parameter with a fallback default.
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
