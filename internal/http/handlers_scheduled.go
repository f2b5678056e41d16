package httpx

import (
	"errors"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/domain/model"
	"github.com/relaydesk/relaydesk/internal/service"
)

// ScheduledHandlers provides HTTP handlers for one-off scheduled messages.
type ScheduledHandlers struct {
	Svc *service.SweeperService
}

// Create handles HTTP requests to schedule a one-off message.
func (h *ScheduledHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateScheduledMessageRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	msg, err := h.Svc.CreateScheduled(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, msg)
}

// List handles HTTP requests for a workspace's scheduled messages.
func (h *ScheduledHandlers) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	msgs, err := h.Svc.ListScheduled(r.Context(), workspaceID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.ScheduledMessage{}
	}

	WriteJSON(w, http.StatusOK, msgs)
}

// Cancel handles HTTP requests to cancel a pending scheduled message. A
// message that already reached a terminal status cannot be cancelled.
func (h *ScheduledHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("scheduled message id is required")})
		return
	}

	cancelled, err := h.Svc.CancelScheduled(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if !cancelled {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "already_terminal",
			Err:     errors.New("scheduled message already reached a terminal status"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.ScheduledCancelled)})
}
