package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"push-dispatcher/internal/models"
)

// VAPIDPublicKeyHandler returns the public VAPID key as plain text
func (h *Handler) VAPIDPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	if h.VAPIDPublicKey == "" {
		writeError(w, http.StatusInternalServerError, "VAPID public key is not configured on the server.")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.VAPIDPublicKey))
}

// SubscribeHandler saves a push subscription, replacing any previous keys for its endpoint
func (h *Handler) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid subscription.")
		return
	}
	if req.Endpoint == "" || len(bytes.TrimSpace(req.Keys)) == 0 || bytes.Equal(req.Keys, []byte("null")) {
		writeError(w, http.StatusBadRequest, "Subscription must include endpoint and keys.")
		return
	}

	if err := h.Store.Upsert(r.Context(), models.PushSubscription{Endpoint: req.Endpoint, Keys: req.Keys}); err != nil {
		h.Logger.Error("Failed to save subscription", zap.String("endpoint", req.Endpoint), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save subscription.")
		return
	}

	h.Logger.Info("Subscription saved", zap.String("endpoint", req.Endpoint))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Subscription added/updated."})
}

// UnsubscribeHandler removes the subscription for an endpoint
func (h *Handler) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Request must include endpoint.")
		return
	}

	removed, err := h.Store.DeleteByEndpoint(r.Context(), req.Endpoint)
	if err != nil {
		h.Logger.Error("Failed to remove subscription", zap.String("endpoint", req.Endpoint), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to remove subscription.")
		return
	}
	if !removed {
		h.Logger.Warn("Unsubscribe for unknown endpoint", zap.String("endpoint", req.Endpoint))
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Subscription not found."})
		return
	}

	h.Logger.Info("Subscription removed", zap.String("endpoint", req.Endpoint))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Subscription removed successfully."})
}
