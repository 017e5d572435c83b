// Package push sends push notifications through a webhook gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/gateway"
)

const defaultTimeout = 10 * time.Second

// Config holds push sender configuration.
type Config struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// Sender implements the push channel via an HTTP webhook.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new push sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.WebhookURL == "" {
		return nil, errors.New("push sender: webhook url is required when enabled")
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("push sender configured", "enabled", config.Enabled)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Channel returns the notification channel this sender serves.
func (s *Sender) Channel() domain.NotificationChannel {
	return domain.ChannelPush
}

type pushRequest struct {
	DeviceToken string `json:"device_token"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Send submits one push notification to the gateway webhook.
func (s *Sender) Send(ctx context.Context, n gateway.Notification) error {
	if !s.config.Enabled {
		slog.Debug("push sender disabled, skipping", "to", n.To)
		return nil
	}

	payload, err := json.Marshal(pushRequest{
		DeviceToken: n.To,
		Title:       n.Subject,
		Body:        n.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
