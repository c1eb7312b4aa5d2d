package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailProvider delivers a message and returns the provider's message id.
type EmailProvider interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ResendOptions parameterise the Resend HTTP provider.
type ResendOptions struct {
	APIKey    string
	From      string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// ResendProvider sends mail through the Resend API.
type ResendProvider struct {
	opts    ResendOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewResendProvider constructs a Resend client.
func NewResendProvider(opts ResendOptions, logger zerolog.Logger) *ResendProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &ResendProvider{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "email_resend").Logger(),
	}
}

// Send posts msg to /emails.
func (p *ResendProvider) Send(ctx context.Context, msg Message) (string, error) {
	if p.opts.APIKey == "" {
		return "", errors.New("resend api key not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("recipient required")
	}

	body, err := json.Marshal(resendRequest{
		From:    p.opts.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send resend request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read resend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Name    string `json:"name"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("resend api error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("resend api error (%d)", resp.StatusCode)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("decode resend response: %w", err)
	}
	if result.ID == "" {
		return "", errors.New("resend response missing message id")
	}

	p.logger.Debug().Str("message_id", result.ID).Msg("email accepted")
	return result.ID, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// LogProvider writes messages to the log instead of sending them.
type LogProvider struct {
	logger zerolog.Logger
}

// NewLogProvider builds the development provider.
func NewLogProvider(logger zerolog.Logger) *LogProvider {
	return &LogProvider{logger: logger.With().Str("component", "email_log").Logger()}
}

// Send logs msg and returns a synthetic message id.
func (p *LogProvider) Send(_ context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("recipient required")
	}
	id := "log-" + uuid.NewString()
	p.logger.Info().
		Str("message_id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg(msg.Text)
	return id, nil
}

var (
	_ EmailProvider = (*ResendProvider)(nil)
	_ EmailProvider = (*LogProvider)(nil)
)
