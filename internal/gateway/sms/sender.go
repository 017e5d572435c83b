// Package sms sends SMS notifications through an HTTP carrier API.
package sms

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

	"golang.org/x/time/rate"

	"github.com/sirenhq/sos-dispatch/internal/domain"
	"github.com/sirenhq/sos-dispatch/internal/gateway"
)

const defaultTimeout = 10 * time.Second

// Config holds SMS sender configuration.
type Config struct {
	Enabled   bool
	APIURL    string
	APIKey    string
	From      string
	RateLimit float64 // messages per second allowed by the carrier
	Timeout   time.Duration
}

// Sender implements the SMS channel against an HTTP carrier API.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new SMS sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.APIURL == "" {
			return nil, errors.New("sms sender: api url is required when enabled")
		}
		if config.APIKey == "" {
			return nil, errors.New("sms sender: api key is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Channel returns the notification channel this sender serves.
func (s *Sender) Channel() domain.NotificationChannel {
	return domain.ChannelSMS
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// Send submits one SMS to the carrier API.
func (s *Sender) Send(ctx context.Context, n gateway.Notification) error {
	if !s.config.Enabled {
		slog.Debug("sms sender disabled, skipping", "to", n.To)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms rate limit: %w", err)
	}

	payload, err := json.Marshal(smsRequest{
		To:   n.To,
		From: s.config.From,
		Body: n.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms carrier returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
