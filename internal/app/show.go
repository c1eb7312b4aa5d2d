package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"
)

// Show prints the most recent stored observations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	observations, err := store.ObservationHistory(ctx, a.Config.FRED.SeriesID, nil, opts.Limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(a.Out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Series\tDate\tRate%\tFetched (UTC)")
	for i := len(observations) - 1; i >= 0; i-- {
		obs := observations[i]
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			obs.Series,
			obs.ObservationDate.Format(time.DateOnly),
			obs.Value.StringFixed(3),
			obs.FetchedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}
