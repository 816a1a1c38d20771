package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink is the push-delivery transport. Implementations are fire-and-forget:
// callers log failures and move on, they never treat them as fatal.
type Sink interface {
	Deliver(ctx context.Context, tokens []string, title, body string, data map[string]string) (int, error)
}

// FCMSink sends pushes through the FCM HTTP API.
type FCMSink struct {
	client    *http.Client
	endpoint  string
	serverKey string
}

func NewFCMSink(endpoint, serverKey string) *FCMSink {
	return &FCMSink{
		client:    &http.Client{Timeout: 5 * time.Second},
		endpoint:  endpoint,
		serverKey: serverKey,
	}
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Deliver sends one multicast message and returns how many tokens accepted
// it.
func (s *FCMSink) Deliver(ctx context.Context, tokens []string, title, body string, data map[string]string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(fcmRequest{
		RegistrationIDs: tokens,
		Notification:    fcmNotification{Title: title, Body: body},
		Data:            data,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("fcm: status %d", resp.StatusCode)
	}

	var result fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("fcm: decode response: %w", err)
	}
	if result.Failure > 0 {
		log.Warn().Int("failed", result.Failure).Msg("Some push tokens rejected")
	}
	return result.Success, nil
}

// LogSink is the stand-in transport when no push credentials are configured.
// It counts every token as delivered.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, tokens []string, title, _ string, _ map[string]string) (int, error) {
	log.Info().
		Str("title", title).
		Int("tokens", len(tokens)).
		Msg("Push delivery (log sink)")
	return len(tokens), nil
}
