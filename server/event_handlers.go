package server

import (
	"encoding/json"
	"net/http"

	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/logger"

	"github.com/minio/minio-go/v7/pkg/notification"
)

// S3EventHandler 接收 S3/MinIO 事件通知并分发
func (h *APIHandler) S3EventHandler(w http.ResponseWriter, r *http.Request) {
	var info notification.Info
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, r, apperr.Validation("invalid event payload: %v", err))
		return
	}
	records := events.FromNotification(info)
	rep := h.Dispatcher.Dispatch(r.Context(), records)
	logger.Info("bucket events dispatched",
		logger.Int("records", len(records)),
		logger.Int("handled", rep.Handled),
		logger.Int("skipped", rep.Skipped),
		logger.Int("failed", rep.Failed))
	writeJSON(w, http.StatusOK, rep)
}
