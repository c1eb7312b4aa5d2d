package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/storage"
)

// ErrMailerNotConfigured is returned by SendTestEmail when no provider is wired.
var ErrMailerNotConfigured = errors.New("service: email delivery not configured")

// SendTestEmail sends a diagnostic message to the user's contact address.
func (s *Service) SendTestEmail(ctx context.Context, userID string) (alerting.Result, error) {
	if s.mailer == nil {
		return alerting.Result{}, ErrMailerNotConfigured
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && strings.TrimSpace(user.Email) == "") {
		return alerting.Result{}, ErrMissingContact
	}
	if err != nil {
		return alerting.Result{}, fmt.Errorf("load user: %w", err)
	}

	res, err := s.mailer.SendTestEmail(ctx, user.Email)
	if err != nil {
		return res, err
	}
	s.logger.Info().Str("user_id", userID).Str("provider_id", res.ProviderID).Msg("test email sent")
	return res, nil
}
