package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Digest summarises one batch of evaluation cycles for operators.
type Digest struct {
	RanAt          time.Time
	Duration       time.Duration
	Checked        int
	Triggered      int
	Failed         int
	FailedSessions []string
}

// DigestPoster delivers batch digests to an operator channel.
type DigestPoster interface {
	PostDigest(ctx context.Context, digest Digest) error
}

// TelegramNotifier posts digests through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram digest poster.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "digest_telegram").Logger(),
	}
}

// PostDigest calls sendMessage with the rendered digest.
func (n *TelegramNotifier) PostDigest(ctx context.Context, digest Digest) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderDigest(digest),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Int("checked", digest.Checked).
		Int("triggered", digest.Triggered).
		Int("failed", digest.Failed).
		Msg("batch digest posted")
	return nil
}

func renderDigest(d Digest) string {
	builder := strings.Builder{}
	builder.WriteString("[refiwatch daily run]\n")
	builder.WriteString(fmt.Sprintf("Ran at: %s UTC\n", d.RanAt.UTC().Format(time.RFC3339)))
	if d.Duration > 0 {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", d.Duration.Round(time.Millisecond)))
	}
	builder.WriteString(fmt.Sprintf("Checked: %d\n", d.Checked))
	builder.WriteString(fmt.Sprintf("Triggered: %d\n", d.Triggered))
	builder.WriteString(fmt.Sprintf("Failed: %d\n", d.Failed))
	if len(d.FailedSessions) > 0 {
		builder.WriteString(fmt.Sprintf("Failed sessions: %s\n", strings.Join(d.FailedSessions, ", ")))
	}
	return builder.String()
}

var _ DigestPoster = (*TelegramNotifier)(nil)
