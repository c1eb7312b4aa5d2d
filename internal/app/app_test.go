package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/service"
	"refi-rate-alerts/internal/storage"
)

const testSeries = "MORTGAGE30US"

type staticSource struct {
	rate decimal.Decimal
}

func (s staticSource) Latest(context.Context, string) (fetcher.Observation, bool) {
	return fetcher.Observation{Date: time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), Value: s.rate}, true
}

func fredServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"observations": []map[string]string{
				{"date": "2025-02-13", "value": "6.87"},
				{"date": "2025-02-20", "value": "6.85"},
				{"date": "2025-02-27", "value": "."},
				{"date": "2025-03-06", "value": "6.63"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, fredURL string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "refiwatch.db")
	cfg.FRED.BaseURL = fredURL
	cfg.FRED.APIKey = "test-key"
	cfg.FRED.SeriesID = testSeries
	cfg.FRED.RequestsPerMinute = 6000
	cfg.Email.Provider = config.EmailProviderLog
	cfg.Email.From = "alerts@example.com"
	cfg.Scheduler.Concurrency = 2
	cfg.Monitor.BodyPreviewLen = 200
	cfg.Monitor.HistoryLimit = 90
	cfg.Export.MaxDataPoints = 100

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestBackfillShowAndExport(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, fredServer(t).URL)

	opts := BackfillOptions{
		From: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, a.Backfill(ctx, opts))
	// A second pass leaves existing dates alone.
	require.NoError(t, a.Backfill(ctx, opts))

	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "2025-03-06")
	assert.Contains(t, out.String(), "6.630")
	assert.NotContains(t, out.String(), "2025-02-27")

	dir := t.TempDir()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	csvPath := filepath.Join(dir, "out", "rates.csv")
	pngPath := filepath.Join(dir, "out", "rates.png")
	require.NoError(t, a.Export(ctx, ExportOptions{From: &from, To: &to, CSVPath: csvPath, PNGPath: pngPath}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"series", "observation_date", "rate_pct", "fetched_at"}, records[0])
	assert.Equal(t, "2025-02-13", records[1][1])
	assert.Equal(t, "6.63", records[3][2])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, fredServer(t).URL)

	require.NoError(t, a.Backfill(ctx, BackfillOptions{
		From:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		DryRun: true,
	}))
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "no observations found")
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := newTestApp(t, "http://127.0.0.1:0")
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestDownsampleObservations(t *testing.T) {
	obs := make([]storage.RateObservation, 10)
	for i := range obs {
		obs[i] = storage.RateObservation{Value: decimal.NewFromInt(int64(i))}
	}

	assert.Len(t, downsampleObservations(obs, 0), 10)
	assert.Len(t, downsampleObservations(obs, 20), 10)

	got := downsampleObservations(obs, 4)
	require.Len(t, got, 4)
	assert.True(t, got[0].Value.Equal(decimal.NewFromInt(0)))
	assert.True(t, got[3].Value.Equal(decimal.NewFromInt(9)))

	one := downsampleObservations(obs, 1)
	require.Len(t, one, 1)
	assert.True(t, one[0].Value.Equal(decimal.NewFromInt(9)))
}

func TestSessionCommandsEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "http://127.0.0.1:0")
	a.source = staticSource{rate: decimal.RequireFromString("6.0")}

	require.NoError(t, a.RegisterUser(ctx, "u1", "u1@example.com"))
	threshold := decimal.RequireFromString("5.5")
	require.NoError(t, a.SetProfile(ctx, "u1", service.ProfileInput{
		CurrentRate:            decimal.RequireFromString("6.5"),
		BenchmarkRateThreshold: &threshold,
		EmailEnabled:           true,
	}))

	out.Reset()
	require.NoError(t, a.CreateSession(ctx, "u1", false))
	var change service.SessionChange
	require.NoError(t, json.Unmarshal(out.Bytes(), &change))
	assert.Equal(t, storage.StatusActive, change.Session.Status)
	require.NotNil(t, change.Cycle)

	err := a.CreateSession(ctx, "u1", false)
	assert.ErrorIs(t, err, service.ErrSessionActive)

	out.Reset()
	require.NoError(t, a.ApplySession(ctx, change.Session.ID, CommandPause))
	assert.Contains(t, out.String(), `"paused"`)

	// Paused sessions are not part of the daily batch.
	out.Reset()
	require.NoError(t, a.RunDaily(ctx))
	var batch service.BatchResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &batch))
	assert.Zero(t, batch.Checked)

	a.source = staticSource{rate: decimal.RequireFromString("5.4")}
	out.Reset()
	require.NoError(t, a.ApplySession(ctx, change.Session.ID, CommandResume))
	var resumed service.SessionChange
	require.NoError(t, json.Unmarshal(out.Bytes(), &resumed))
	assert.Equal(t, storage.StatusCompleted, resumed.Session.Status)

	out.Reset()
	require.NoError(t, a.Status(ctx, "u1"))
	var view service.StatusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.NotNil(t, view.Session)
	assert.Len(t, view.Runs, 2)
	assert.Len(t, view.Notifications, 1)

	err = a.ApplySession(ctx, change.Session.ID, CommandStop)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestEvaluateDryRun(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "http://127.0.0.1:0")

	threshold := decimal.RequireFromString("5.5")
	require.NoError(t, a.Evaluate(ctx, EvaluateOptions{
		Rate: decimal.RequireFromString("5.25"),
		Profile: &service.ProfileInput{
			CurrentRate:            decimal.RequireFromString("6.5"),
			BenchmarkRateThreshold: &threshold,
		},
	}))
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, true, result["triggered"])
	assert.Contains(t, result["reason"], "5.250%")

	assert.Error(t, a.Evaluate(ctx, EvaluateOptions{Rate: decimal.RequireFromString("5")}))
	assert.Error(t, a.Evaluate(ctx, EvaluateOptions{Rate: decimal.Zero, Profile: &service.ProfileInput{}}))
}
