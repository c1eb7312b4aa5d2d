package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"refi-rate-alerts/internal/storage"
)

// Ledger is the part of the notification store the notifier needs.
type Ledger interface {
	ReserveNotification(ctx context.Context, event storage.NotificationEvent) (bool, error)
	ConfirmNotification(ctx context.Context, dedupeKey, providerMessageID string, sentAt time.Time) error
	ReleaseNotification(ctx context.Context, dedupeKey string) error
}

// Result reports whether a provider call happened and its message id.
type Result struct {
	Sent       bool
	ProviderID string
}

// DedupeKey is the single notification slot of a session.
func DedupeKey(sessionID string) string {
	return "monitor-session:" + sessionID + ":trigger"
}

// Notifier sends at most one trigger email per session.
type Notifier struct {
	ledger     Ledger
	provider   EmailProvider
	previewLen int
	now        func() time.Time
	logger     zerolog.Logger
}

// NewNotifier wires a ledger and provider.
func NewNotifier(ledger Ledger, provider EmailProvider, previewLen int, logger zerolog.Logger) *Notifier {
	return &Notifier{
		ledger:     ledger,
		provider:   provider,
		previewLen: previewLen,
		now:        time.Now,
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// WithClock overrides the time source.
func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Notify reserves the session's dedupe slot and sends the trigger email. An
// already reserved slot returns Sent=false without calling the provider. A
// provider failure releases the slot and returns the error.
func (n *Notifier) Notify(ctx context.Context, sessionID, recipient string, payload Payload) (Result, error) {
	msg := RenderTrigger(recipient, payload)
	key := DedupeKey(sessionID)

	reserved, err := n.ledger.ReserveNotification(ctx, storage.NotificationEvent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		DedupeKey:   key,
		Status:      storage.NotificationPending,
		CreatedAt:   n.now().UTC(),
		Subject:     msg.Subject,
		BodyPreview: Preview(payload.Reason, n.previewLen),
	})
	if err != nil {
		return Result{}, fmt.Errorf("reserve notification: %w", err)
	}
	if !reserved {
		n.logger.Info().Str("session_id", sessionID).Str("dedupe_key", key).Msg("notification already recorded; skipping send")
		return Result{}, nil
	}

	providerID, sendErr := n.provider.Send(ctx, msg)
	if sendErr != nil {
		if err := n.ledger.ReleaseNotification(context.WithoutCancel(ctx), key); err != nil {
			n.logger.Error().Err(err).Str("dedupe_key", key).Msg("release notification reservation failed")
		}
		return Result{}, fmt.Errorf("send notification: %w", sendErr)
	}

	if err := n.ledger.ConfirmNotification(context.WithoutCancel(ctx), key, providerID, n.now().UTC()); err != nil {
		// The email is out; the pending row still blocks a resend.
		n.logger.Error().Err(err).Str("dedupe_key", key).Str("provider_id", providerID).Msg("confirm notification failed")
	}

	n.logger.Info().Str("session_id", sessionID).Str("provider_id", providerID).Msg("trigger notification sent")
	return Result{Sent: true, ProviderID: providerID}, nil
}

// SendTestEmail sends a diagnostic message without touching the ledger.
func (n *Notifier) SendTestEmail(ctx context.Context, recipient string) (Result, error) {
	providerID, err := n.provider.Send(ctx, RenderTest(recipient, n.now()))
	if err != nil {
		return Result{}, fmt.Errorf("send test email: %w", err)
	}
	return Result{Sent: true, ProviderID: providerID}, nil
}
