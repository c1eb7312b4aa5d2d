package alerting

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/evaluator"
)

// Payload is the trigger context rendered into the user's email.
type Payload struct {
	Series          string
	ObservationDate time.Time
	BenchmarkRate   decimal.Decimal
	Reason          string
	Metrics         evaluator.Metrics
}

// RenderTrigger builds the subject and bodies for a trigger notification.
func RenderTrigger(recipient string, p Payload) Message {
	subject := fmt.Sprintf("Refinance alert: %s at %s%%", p.Series, p.BenchmarkRate.StringFixed(3))

	lines := []string{
		p.Reason + ".",
		"",
		fmt.Sprintf("Benchmark (%s, %s): %s%%", p.Series, p.ObservationDate.Format("2006-01-02"), p.BenchmarkRate.StringFixed(3)),
		fmt.Sprintf("Your current rate: %s%%", p.Metrics.CurrentRate.StringFixed(3)),
		fmt.Sprintf("Spread: %s points", p.Metrics.RateSpread.StringFixed(3)),
	}
	if be := p.Metrics.BreakEven; be != nil {
		lines = append(lines,
			fmt.Sprintf("Current payment: $%s/month", be.CurrentPayment.StringFixed(2)),
			fmt.Sprintf("Estimated new payment: $%s/month", be.NewPayment.StringFixed(2)),
			fmt.Sprintf("Monthly savings: $%s", be.MonthlySavings.StringFixed(2)),
			fmt.Sprintf("Closing costs: $%s", be.ClosingCosts.StringFixed(2)),
		)
		if be.BreakEvenMonths != nil {
			lines = append(lines, fmt.Sprintf("Break-even: %d months", *be.BreakEvenMonths))
		}
	}
	lines = append(lines, "", "This monitor is now complete. Start a new one any time to keep watching rates.")

	text := strings.Join(lines, "\n")
	return Message{
		To:      recipient,
		Subject: subject,
		Text:    text,
		HTML:    textToHTML(text),
	}
}

// RenderTest builds the diagnostic message sent by the test-email operation.
func RenderTest(recipient string, at time.Time) Message {
	text := fmt.Sprintf("This is a test message from refiwatch sent at %s.\nIf you received it, rate alerts can reach you.",
		at.UTC().Format(time.RFC1123))
	return Message{
		To:      recipient,
		Subject: "refiwatch test email",
		Text:    text,
		HTML:    textToHTML(text),
	}
}

func textToHTML(text string) string {
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// Preview truncates body to at most n runes.
func Preview(body string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(body)
	if len(runes) <= n {
		return body
	}
	return string(runes[:n])
}
