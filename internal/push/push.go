// Package push hands high-priority notifications off to an external
// push-delivery relay. Delivery is fire-and-forget: failures are logged
// and never propagate into the calling operation.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fixwork_backend/internal/models"
)

// Message is the payload handed to the relay.
type Message struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, sub models.PushSubscription, msg Message) error
}

// RelaySender POSTs the message to a push relay service which owns the
// actual web-push protocol handling.
type RelaySender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRelaySender(endpoint, apiKey string) *RelaySender {
	return &RelaySender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *RelaySender) Send(ctx context.Context, sub models.PushSubscription, msg Message) error {
	payload := map[string]any{
		"subscription": map[string]string{
			"endpoint": sub.Endpoint,
			"p256dh":   sub.P256dh,
			"auth":     sub.Auth,
		},
		"message": msg,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push relay returned %d", resp.StatusCode)
	}
	return nil
}

// Noop is used when no relay is configured.
type Noop struct{}

func (Noop) Send(context.Context, models.PushSubscription, Message) error {
	return nil
}
