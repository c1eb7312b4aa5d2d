// Package evaluator decides whether an observed benchmark rate satisfies a
// user's refinance thresholds. Everything here is pure: no I/O, no clock.
package evaluator

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultClosingCostPercent applies when a loan carries neither a dollar nor a
// percent closing cost.
var DefaultClosingCostPercent = decimal.NewFromInt(2)

var hundred = decimal.NewFromInt(100)

// Criteria is the slice of a threshold profile the evaluator reads. Rates are
// whole-percent values (6.5 means 6.5%).
type Criteria struct {
	CurrentRate              decimal.Decimal
	BenchmarkRateThreshold   *decimal.Decimal
	BreakEvenMonthsThreshold *int
	Loan                     *Loan
}

// Loan carries the amortization inputs for the break-even trigger.
type Loan struct {
	Balance             decimal.Decimal
	RemainingTermMonths int
	ClosingCostDollars  *decimal.Decimal
	ClosingCostPercent  *decimal.Decimal
}

// Metrics is the computed snapshot persisted with every evaluation run.
type Metrics struct {
	BenchmarkRate          decimal.Decimal   `json:"benchmark_rate"`
	CurrentRate            decimal.Decimal   `json:"current_rate"`
	RateSpread             decimal.Decimal   `json:"rate_spread"`
	BenchmarkRateThreshold *decimal.Decimal  `json:"benchmark_rate_threshold,omitempty"`
	TriggeredByRate        bool              `json:"triggered_by_rate"`
	BreakEven              *BreakEvenMetrics `json:"break_even,omitempty"`
}

// BreakEvenMetrics is present only when loan parameters were supplied.
// BreakEvenMonths is nil when the new payment saves nothing.
type BreakEvenMetrics struct {
	CurrentPayment       decimal.Decimal `json:"current_payment"`
	NewPayment           decimal.Decimal `json:"new_payment"`
	MonthlySavings       decimal.Decimal `json:"monthly_savings"`
	ClosingCosts         decimal.Decimal `json:"closing_costs"`
	BreakEvenMonths      *int            `json:"break_even_months"`
	Threshold            *int            `json:"break_even_months_threshold,omitempty"`
	TotalSavingsOverTerm decimal.Decimal `json:"total_savings_over_term"`
	TriggeredByBreakEven bool            `json:"triggered_by_break_even"`
}

// Result is the evaluator's decision. Reason is empty unless Triggered.
type Result struct {
	Triggered bool
	Metrics   Metrics
	Reason    string
}

// Evaluate compares benchmarkRate against the criteria. Either satisfied
// condition triggers on its own.
func Evaluate(c Criteria, benchmarkRate decimal.Decimal) Result {
	metrics := Metrics{
		BenchmarkRate:          benchmarkRate,
		CurrentRate:            c.CurrentRate,
		RateSpread:             c.CurrentRate.Sub(benchmarkRate),
		BenchmarkRateThreshold: c.BenchmarkRateThreshold,
	}

	var clauses []string

	if c.BenchmarkRateThreshold != nil && benchmarkRate.LessThanOrEqual(*c.BenchmarkRateThreshold) {
		metrics.TriggeredByRate = true
		clauses = append(clauses, fmt.Sprintf(
			"benchmark rate %s%% is at or below your %s%% threshold",
			benchmarkRate.StringFixed(3), c.BenchmarkRateThreshold.StringFixed(3),
		))
	}

	if c.Loan != nil {
		be := breakEven(*c.Loan, c.CurrentRate, benchmarkRate)
		be.Threshold = c.BreakEvenMonthsThreshold
		if be.Threshold != nil && be.BreakEvenMonths != nil && *be.BreakEvenMonths <= *be.Threshold {
			be.TriggeredByBreakEven = true
			clauses = append(clauses, fmt.Sprintf(
				"break-even of %d months is within your %d-month threshold (saving $%s/month)",
				*be.BreakEvenMonths, *be.Threshold, be.MonthlySavings.StringFixed(2),
			))
		}
		metrics.BreakEven = &be
	}

	result := Result{Metrics: metrics}
	if len(clauses) > 0 {
		result.Triggered = true
		clauses[0] = strings.ToUpper(clauses[0][:1]) + clauses[0][1:]
		result.Reason = strings.Join(clauses, "; ")
	}
	return result
}

func breakEven(loan Loan, currentRate, benchmarkRate decimal.Decimal) BreakEvenMetrics {
	balance := loan.Balance.InexactFloat64()
	current := MonthlyPayment(balance, currentRate.InexactFloat64(), loan.RemainingTermMonths)
	proposed := MonthlyPayment(balance, benchmarkRate.InexactFloat64(), loan.RemainingTermMonths)
	savings := current - proposed
	closing := ClosingCosts(loan).InexactFloat64()

	m := BreakEvenMetrics{
		CurrentPayment: money(current),
		NewPayment:     money(proposed),
		MonthlySavings: money(savings),
		ClosingCosts:   money(closing),
	}
	if savings > 0 {
		months := int(math.Ceil(closing / savings))
		m.BreakEvenMonths = &months
		m.TotalSavingsOverTerm = money(savings*float64(loan.RemainingTermMonths) - closing)
	}
	return m
}

// MonthlyPayment is the standard fixed-rate amortized payment for a principal
// at annualRatePct (whole percent) over termMonths.
func MonthlyPayment(principal, annualRatePct float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	n := float64(termMonths)
	if annualRatePct <= 0 {
		return principal / n
	}
	r := annualRatePct / 100 / 12
	growth := math.Pow(1+r, n)
	return principal * r * growth / (growth - 1)
}

// ClosingCosts resolves the refinance closing cost: a fixed dollar amount
// wins, then a percent of balance, then DefaultClosingCostPercent.
func ClosingCosts(loan Loan) decimal.Decimal {
	if loan.ClosingCostDollars != nil {
		return *loan.ClosingCostDollars
	}
	pct := DefaultClosingCostPercent
	if loan.ClosingCostPercent != nil {
		pct = *loan.ClosingCostPercent
	}
	return loan.Balance.Mul(pct).Div(hundred)
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
