package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/evaluator"
)

func TestResendProviderSend(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "email_123"})
	}))
	defer srv.Close()

	p := NewResendProvider(ResendOptions{APIKey: "re_test", From: "alerts@example.com", BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	id, err := p.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "body", HTML: "<p>body</p>"})
	require.NoError(t, err)
	assert.Equal(t, "email_123", id)
	assert.Equal(t, "alerts@example.com", got.From)
	assert.Equal(t, []string{"a@example.com"}, got.To)
}

func TestResendProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": 422, "name": "validation_error", "message": "Invalid `to` field"})
	}))
	defer srv.Close()

	p := NewResendProvider(ResendOptions{APIKey: "re_test", BaseURL: srv.URL}, testLogger())
	_, err := p.Send(context.Background(), Message{To: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid `to` field")
}

func TestResendProviderRequiresKey(t *testing.T) {
	p := NewResendProvider(ResendOptions{}, testLogger())
	_, err := p.Send(context.Background(), Message{To: "a@example.com"})
	assert.Error(t, err)
}

func TestLogProviderReturnsSyntheticID(t *testing.T) {
	p := NewLogProvider(testLogger())
	id, err := p.Send(context.Background(), Message{To: "a@example.com", Subject: "s"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))

	_, err = p.Send(context.Background(), Message{})
	assert.Error(t, err)
}

func TestRenderTriggerIncludesBreakEven(t *testing.T) {
	months := 23
	payload := samplePayload()
	payload.Metrics.BreakEven = &evaluator.BreakEvenMetrics{
		CurrentPayment:  decimal.RequireFromString("2025.62"),
		NewPayment:      decimal.RequireFromString("1753.77"),
		MonthlySavings:  decimal.RequireFromString("271.85"),
		ClosingCosts:    decimal.RequireFromString("6000"),
		BreakEvenMonths: &months,
	}

	msg := RenderTrigger("a@example.com", payload)
	assert.Equal(t, "Refinance alert: MORTGAGE30US at 5.500%", msg.Subject)
	assert.Contains(t, msg.Text, "Break-even: 23 months")
	assert.Contains(t, msg.Text, "$271.85")
	assert.Contains(t, msg.HTML, "<p>")
	assert.NotContains(t, msg.HTML, "\n")
}

func TestPreviewTruncatesRunes(t *testing.T) {
	assert.Equal(t, "abc", Preview("abcdef", 3))
	assert.Equal(t, "ab", Preview("ab", 3))
	assert.Equal(t, "", Preview("ab", 0))
	assert.Equal(t, "é", Preview("éé", 1))
}
