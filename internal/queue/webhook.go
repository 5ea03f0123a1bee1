package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"
	"sync"

	"github.com/skinvault/escrowd/internal/pkg/logger"
)

// WebhookDispatcher delivers fire-and-forget notifications. The url
// registry is an owned struct guarded by its own mutex, never shared
// raw with callers.
type WebhookDispatcher struct {
	mu     sync.RWMutex
	urls   map[string]string // subject id -> url
	client *http.Client
	log    *slog.Logger
}

func NewWebhookDispatcher() *WebhookDispatcher {
	return &WebhookDispatcher{
		urls: make(map[string]string),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: logger.Component("webhook"),
	}
}

// Register associates a delivery url with a subject (job or trade id).
func (d *WebhookDispatcher) Register(subjectID, url string) {
	if url == "" {
		return
	}
	d.mu.Lock()
	d.urls[subjectID] = url
	d.mu.Unlock()
}

// Notify posts the event asynchronously. Delivery is best-effort:
// failures are logged and never retried here.
func (d *WebhookDispatcher) Notify(subjectID, event string, payload any) {
	d.mu.RLock()
	url, ok := d.urls[subjectID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	go func() {
		body, err := json.Marshal(map[string]any{
			"subject_id": subjectID,
			"event":      event,
			"payload":    payload,
			"sent_at":    time.Now().UTC(),
		})
		if err != nil {
			d.log.Error("webhook payload marshal failed", "subject_id", subjectID, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			d.log.Error("webhook request build failed", "subject_id", subjectID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.log.Warn("webhook delivery failed", "subject_id", subjectID, "url", url, "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			d.log.Warn("webhook delivery rejected", "subject_id", subjectID, "status", resp.StatusCode)
		}
	}()
}
