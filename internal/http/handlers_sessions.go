package httpx

import (
	"errors"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/service"
	"github.com/relaydesk/relaydesk/internal/session"
)

// SessionHandlers provides HTTP handlers for workspace session lifecycle
// operations.
type SessionHandlers struct {
	Sessions   *session.Manager
	Status     *service.StatusService
	Workspaces core.WorkspaceRepository
}

// Start handles HTTP requests to start a workspace session. Starting an
// already active session is a no-op success.
func (h *SessionHandlers) Start(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	if _, err := h.Workspaces.GetByID(r.Context(), workspaceID); err != nil {
		WriteAppError(w, err)
		return
	}

	if err := h.Sessions.Start(r.Context(), workspaceID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"workspace_id": workspaceID, "status": "starting"})
}

// Stop handles HTTP requests to stop a workspace session.
func (h *SessionHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	if err := h.Sessions.Stop(r.Context(), workspaceID); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"workspace_id": workspaceID, "status": "stopped"})
}

// GetStatus handles HTTP requests for the operator status view.
func (h *SessionHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	status, err := h.Status.Status(r.Context(), workspaceID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}
