package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one dated value of a benchmark series.
type Observation struct {
	Date  time.Time
	Value decimal.Decimal
}

// RateSource retrieves the most recent published value of a series. It never
// returns an error: ok is false when no usable value could be obtained.
type RateSource interface {
	Latest(ctx context.Context, series string) (Observation, bool)
}

// RangeSource retrieves every published value of a series dated within [from, to].
type RangeSource interface {
	Range(ctx context.Context, series string, from, to time.Time) ([]Observation, error)
}
