package app

import (
	"context"
	"errors"
	"time"

	"refi-rate-alerts/internal/storage"
)

// Backfill pulls an observation range from FRED and stores it. Existing
// observation dates are left untouched.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.From.UTC()
	end := opts.To.UTC()
	if end.Before(start) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	series := a.Config.FRED.SeriesID
	observations, err := a.newFRED().Range(ctx, series, start, end)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("series", series).Int("observations", len(observations)).Msg("fetched observation range")

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing written")
		return nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	inserted, existing := 0, 0
	for _, obs := range observations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, created, err := store.InsertObservation(ctx, storage.RateObservation{
			Series:          series,
			ObservationDate: obs.Date,
			Value:           obs.Value,
			FetchedAt:       time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if created {
			inserted++
		} else {
			existing++
		}
	}

	a.Logger.Info().Int("inserted", inserted).Int("existing", existing).Msg("backfill complete")
	return nil
}
