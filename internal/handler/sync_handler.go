package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SyncHandler struct {
	syncService *service.SyncService
	validate    *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		validate:    validator.New(),
	}
}

func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.syncService.Sync(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			response.Conflict(w, "A sync is already in progress")
		case errors.Is(err, domain.ErrAuthRequired):
			response.Unauthorized(w, "Authentication required for sync")
		default:
			// The result still carries the partial run for diagnostics.
			response.ErrorWithData(w, http.StatusBadGateway, err.Error(), result)
		}
		return
	}

	response.Success(w, result)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncService.Status()
	if err != nil {
		response.InternalError(w, "Failed to load sync status")
		return
	}

	response.Success(w, status)
}

func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	cancelled := h.syncService.Cancel()

	response.Success(w, map[string]bool{"cancelled": cancelled})
}

func (h *SyncHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.syncService.ClearHistory(); err != nil {
		response.InternalError(w, "Failed to clear sync history")
		return
	}

	response.Success(w, map[string]string{"message": "Sync history cleared"})
}

// Conflicts lists the resolver verdicts of the last finished run, including
// the per-property differences captured at resolution time.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncService.Status()
	if err != nil {
		response.InternalError(w, "Failed to load sync status")
		return
	}

	var conflicts []domain.ConflictRecord
	if status.LastResult != nil {
		conflicts = status.LastResult.Conflicts
	}

	response.Success(w, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}
