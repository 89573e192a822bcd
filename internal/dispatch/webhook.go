package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier tries the websocket session first and falls back to a
// POST against an external push endpoint. Both legs are best-effort.
type WebhookNotifier struct {
	WS       *WSRegistry
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhookNotifier(ws *WSRegistry, endpoint string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		WS:       ws,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (w *WebhookNotifier) Notify(userID, event string, payload any) error {
	if w.WS != nil {
		if err := w.WS.Notify(userID, event, payload); err == nil {
			return nil
		}
	}
	if w.Endpoint == "" {
		return ErrNoSession
	}
	body, err := json.Marshal(map[string]any{"user_id": userID, "event": event, "payload": payload})
	if err != nil {
		return err
	}
	resp, err := w.Client.Post(w.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		w.Logger.Warn("webhook push failed", "user_id", userID, "event", event, "error", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook push: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookNotifier) Broadcast(event string, payload any) {
	if w.WS != nil {
		w.WS.Broadcast(event, payload)
	}
}
