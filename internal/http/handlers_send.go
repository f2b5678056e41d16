package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// SendHandlers provides HTTP handlers for bulk and custom sends.
type SendHandlers struct {
	Pipeline   *delivery.Pipeline
	Workspaces core.WorkspaceRepository
	Reports    core.ReportRepository
}

// SendRequest is the operator-facing bulk send payload. Recipients left
// empty broadcast to the workspace's configured list.
type SendRequest struct {
	Message    string              `json:"message"`
	Recipients []string            `json:"recipients,omitempty"`
	Source     string              `json:"source,omitempty"`
	Overrides  model.SendOverrides `json:"overrides,omitempty"`
}

// SendResponse carries the per-recipient outcomes of a bulk send.
type SendResponse struct {
	WorkspaceID string                  `json:"workspace_id"`
	Sent        int                     `json:"sent"`
	Failed      int                     `json:"failed"`
	Results     []model.RecipientResult `json:"results"`
}

// SendBulk handles HTTP requests to send a message to many recipients.
func (h *SendHandlers) SendBulk(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	var req SendRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errors.New("message is required")})
		return
	}

	ws, err := h.Workspaces.GetByID(r.Context(), workspaceID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	results, err := h.Pipeline.SendBulk(r.Context(), ws, delivery.SendRequest{
		Recipients: req.Recipients,
		Message:    req.Message,
		Kind:       model.ReportKindOutgoing,
		Source:     source,
		Overrides:  req.Overrides,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	resp := SendResponse{WorkspaceID: workspaceID, Results: results}
	for _, res := range results {
		if res.Success {
			resp.Sent++
		} else {
			resp.Failed++
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListReports handles HTTP requests for a workspace's delivery report
// entries, newest first.
func (h *SendHandlers) ListReports(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	if workspaceID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("workspace id is required")})
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	entries, err := h.Reports.ListByWorkspace(r.Context(), workspaceID, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if entries == nil {
		entries = []*model.DeliveryReport{}
	}

	WriteJSON(w, http.StatusOK, entries)
}
