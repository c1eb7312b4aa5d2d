package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	fredObservationsPath = "/series/observations"
	fredDateLayout       = "2006-01-02"
	// fredMissingValue marks a date the provider has no value for.
	fredMissingValue = "."
)

// FREDOptions parameterise the FRED observations client.
type FREDOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	UserAgent         string
}

// FRED fetches series observations from the St. Louis Fed API.
type FRED struct {
	opts    FREDOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	timeout time.Duration
}

// NewFRED constructs a FRED client.
func NewFRED(opts FREDOptions, logger zerolog.Logger) *FRED {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred"
	}

	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 100
	}

	return &FRED{
		opts:    opts,
		logger:  logger.With().Str("component", "fred_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		timeout: timeout,
	}
}

// Latest returns the newest observation of series. Transport failures, HTTP
// errors, malformed payloads and the missing-value sentinel all yield ok=false.
func (f *FRED) Latest(ctx context.Context, series string) (Observation, bool) {
	params := url.Values{}
	params.Set("sort_order", "desc")
	params.Set("limit", "1")

	observations, err := f.fetch(ctx, series, params)
	if err != nil {
		f.logger.Warn().Err(err).Str("series", series).Msg("latest observation unavailable")
		return Observation{}, false
	}
	if len(observations) == 0 {
		f.logger.Warn().Str("series", series).Msg("provider returned no usable observation")
		return Observation{}, false
	}
	return observations[0], true
}

// Range returns observations dated within [from, to] in chronological order,
// skipping dates without a value.
func (f *FRED) Range(ctx context.Context, series string, from, to time.Time) ([]Observation, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s is before start %s", to.Format(fredDateLayout), from.Format(fredDateLayout))
	}
	params := url.Values{}
	params.Set("sort_order", "asc")
	params.Set("observation_start", from.Format(fredDateLayout))
	params.Set("observation_end", to.Format(fredDateLayout))
	return f.fetch(ctx, series, params)
}

func (f *FRED) fetch(ctx context.Context, series string, params url.Values) ([]Observation, error) {
	if f.opts.APIKey == "" {
		return nil, errors.New("fred api key not configured")
	}
	if strings.TrimSpace(series) == "" {
		return nil, errors.New("series id required")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params.Set("series_id", series)
	params.Set("api_key", f.opts.APIKey)
	params.Set("file_type", "json")

	endpoint := f.baseURL + fredObservationsPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "refiwatch/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res observationsResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}

	out := make([]Observation, 0, len(res.Observations))
	for _, raw := range res.Observations {
		value := strings.TrimSpace(raw.Value)
		if value == fredMissingValue || value == "" {
			continue
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parse value %q for %s: %w", raw.Value, raw.Date, err)
		}
		date, err := time.Parse(fredDateLayout, raw.Date)
		if err != nil {
			return nil, fmt.Errorf("parse observation date %q: %w", raw.Date, err)
		}
		out = append(out, Observation{Date: date, Value: parsed})
	}
	return out, nil
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

type errorResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		return fmt.Errorf("fred api error (%d): %s", status, apiErr.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("fred api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("fred api error (%d)", status)
}

var (
	_ RateSource  = (*FRED)(nil)
	_ RangeSource = (*FRED)(nil)
)
