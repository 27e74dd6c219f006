package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"push-dispatcher/internal/content"
	"push-dispatcher/internal/dispatch"
	"push-dispatcher/internal/models"
)

// SendDailyNotificationHandler runs one dispatch cycle. The body may carry title, body and
// url overrides, or be empty.
func (h *Handler) SendDailyNotificationHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var overrides models.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	h.Logger.Info("Daily notification triggered")

	summary, err := h.Dispatcher.Dispatch(r.Context(), overrides)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrNoContent):
		h.Logger.Warn("No content available to send")
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No content available to send."})
		return
	case errors.Is(err, content.ErrNoSource):
		h.Logger.Error("Content source is not configured")
		writeError(w, http.StatusInternalServerError, "POSTS_JSON_URL is not configured.")
		return
	case errors.Is(err, dispatch.ErrContentUnavailable):
		h.Logger.Error("Failed to fetch content", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch latest content.")
		return
	case errors.Is(err, dispatch.ErrStoreUnavailable):
		h.Logger.Error("Failed to load subscriptions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load subscriptions.")
		return
	default:
		h.Logger.Error("Dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Dispatch failed.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":                "Daily notification dispatch completed",
		"attempted":              summary.Attempted,
		"sent":                   summary.Sent,
		"failed":                 summary.Failed,
		"removed":                summary.Removed,
		"remainingSubscriptions": summary.Remaining,
		"totalSubscriptions":     summary.Remaining,
	})
}
