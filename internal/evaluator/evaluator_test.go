package evaluator

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int { return &v }

func TestEvaluateRateThresholdIsInclusive(t *testing.T) {
	c := Criteria{CurrentRate: dec("6.5"), BenchmarkRateThreshold: decPtr("5.5")}

	res := Evaluate(c, dec("5.5"))
	require.True(t, res.Triggered)
	assert.True(t, res.Metrics.TriggeredByRate)
	assert.Contains(t, res.Reason, "5.500%")
	assert.Equal(t, "Benchmark rate 5.500% is at or below your 5.500% threshold", res.Reason)
	assert.True(t, res.Metrics.RateSpread.Equal(dec("1.0")))

	res = Evaluate(c, dec("5.501"))
	assert.False(t, res.Triggered)
	assert.Empty(t, res.Reason)
	assert.False(t, res.Metrics.TriggeredByRate)
}

func TestEvaluateWithoutThresholdsNeverTriggers(t *testing.T) {
	res := Evaluate(Criteria{CurrentRate: dec("6.5")}, dec("1.0"))
	assert.False(t, res.Triggered)
	assert.Nil(t, res.Metrics.BreakEven)
}

func TestEvaluateBreakEvenTrigger(t *testing.T) {
	c := Criteria{
		CurrentRate:              dec("6.5"),
		BreakEvenMonthsThreshold: intPtr(24),
		Loan: &Loan{
			Balance:             dec("300000"),
			RemainingTermMonths: 300,
			ClosingCostPercent:  decPtr("2"),
		},
	}

	res := Evaluate(c, dec("5.0"))
	require.True(t, res.Triggered)
	assert.False(t, res.Metrics.TriggeredByRate)

	be := res.Metrics.BreakEven
	require.NotNil(t, be)
	require.NotNil(t, be.BreakEvenMonths)
	assert.Equal(t, 23, *be.BreakEvenMonths)
	assert.True(t, be.TriggeredByBreakEven)
	assert.Equal(t, "2025.62", be.CurrentPayment.StringFixed(2))
	assert.Equal(t, "1753.77", be.NewPayment.StringFixed(2))
	assert.Equal(t, "271.85", be.MonthlySavings.StringFixed(2))
	assert.Equal(t, "6000.00", be.ClosingCosts.StringFixed(2))
	assert.Equal(t, "75555.41", be.TotalSavingsOverTerm.StringFixed(2))
	assert.Contains(t, res.Reason, "23 months")
	assert.Contains(t, res.Reason, "24-month")

	c.BreakEvenMonthsThreshold = intPtr(22)
	res = Evaluate(c, dec("5.0"))
	assert.False(t, res.Triggered)
	assert.Equal(t, 23, *res.Metrics.BreakEven.BreakEvenMonths)
}

func TestEvaluateBreakEvenNeverWithoutSavings(t *testing.T) {
	c := Criteria{
		CurrentRate:              dec("6.5"),
		BreakEvenMonthsThreshold: intPtr(10_000),
		Loan:                     &Loan{Balance: dec("300000"), RemainingTermMonths: 300},
	}

	for _, rate := range []string{"6.5", "7.0"} {
		res := Evaluate(c, dec(rate))
		assert.False(t, res.Triggered, rate)
		require.NotNil(t, res.Metrics.BreakEven)
		assert.Nil(t, res.Metrics.BreakEven.BreakEvenMonths, rate)
		assert.False(t, res.Metrics.BreakEven.TriggeredByBreakEven)
		assert.True(t, res.Metrics.BreakEven.TotalSavingsOverTerm.IsZero())
	}
}

func TestEvaluateEitherConditionSuffices(t *testing.T) {
	c := Criteria{
		CurrentRate:              dec("6.5"),
		BenchmarkRateThreshold:   decPtr("4.0"),
		BreakEvenMonthsThreshold: intPtr(24),
		Loan: &Loan{
			Balance:             dec("300000"),
			RemainingTermMonths: 300,
			ClosingCostDollars:  decPtr("4000"),
		},
	}

	res := Evaluate(c, dec("5.0"))
	require.True(t, res.Triggered)
	assert.False(t, res.Metrics.TriggeredByRate)
	assert.Equal(t, 15, *res.Metrics.BreakEven.BreakEvenMonths)
	assert.NotContains(t, res.Reason, "threshold of")
	assert.NotContains(t, res.Reason, "benchmark rate")

	res = Evaluate(c, dec("3.9"))
	require.True(t, res.Triggered)
	assert.True(t, res.Metrics.TriggeredByRate)
	assert.True(t, res.Metrics.BreakEven.TriggeredByBreakEven)
	assert.Contains(t, res.Reason, "; break-even of")
}

func TestMonthlyPaymentDegenerateInputs(t *testing.T) {
	assert.Zero(t, MonthlyPayment(1000, 5, 0))
	assert.Zero(t, MonthlyPayment(1000, 5, -3))
	assert.InDelta(t, 555.5556, MonthlyPayment(200000, 0, 360), 0.0001)
	assert.InDelta(t, 555.5556, MonthlyPayment(200000, -1, 360), 0.0001)
	assert.InDelta(t, 1199.10, MonthlyPayment(200000, 6, 360), 0.01)
}

func TestClosingCostsPrecedence(t *testing.T) {
	loan := Loan{Balance: dec("250000")}
	assert.True(t, ClosingCosts(loan).Equal(dec("5000")))

	loan.ClosingCostPercent = decPtr("3")
	assert.True(t, ClosingCosts(loan).Equal(dec("7500")))

	loan.ClosingCostDollars = decPtr("1200")
	assert.True(t, ClosingCosts(loan).Equal(dec("1200")))
}

func TestMetricsJSONShape(t *testing.T) {
	res := Evaluate(Criteria{
		CurrentRate: dec("6.5"),
		Loan:        &Loan{Balance: dec("100000"), RemainingTermMonths: 120},
	}, dec("7.5"))

	raw, err := json.Marshal(res.Metrics)
	require.NoError(t, err)

	var shape map[string]any
	require.NoError(t, json.Unmarshal(raw, &shape))
	assert.NotContains(t, shape, "benchmark_rate_threshold")
	be := shape["break_even"].(map[string]any)
	assert.Contains(t, be, "break_even_months")
	assert.Nil(t, be["break_even_months"])
}
