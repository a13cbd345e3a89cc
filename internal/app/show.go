package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"bond-alerts/internal/storage"
)

// Show prints recent yield samples or alert records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		if opts.PruneOlderThan > 0 {
			cutoff := time.Now().UTC().Add(-opts.PruneOlderThan)
			if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
				return err
			}
			a.Logger.Info().Time("cutoff", cutoff).Msg("pruned old alert records")
		}
		return showAlerts(ctx, store, opts.Limit)
	}
	return showSamples(ctx, store, opts.Limit)
}

func showSamples(ctx context.Context, store *storage.Store, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Cycle (UTC)\tISIN\tName\tYTM%\tPrice\tRating\tYears")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.CycleTS.UTC().Format(time.RFC3339),
			sample.ISIN,
			sanitizeInline(sample.Name),
			formatDecimal(sample.YieldPct, 2),
			formatDecimal(sample.Price, 2),
			sample.Rating,
			formatDecimal(sample.YearsToMaturity, 1),
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	total, err := store.CountSamples(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "showing %d of %d stored samples\n", len(samples), total)
	return nil
}

func showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Delivered (UTC)\tISIN\tReason\tPrior%\tCurrent%\tDelta pp")

	for _, alert := range alerts {
		prior := "-"
		if alert.PriorYieldPct != nil {
			prior = formatDecimal(*alert.PriorYieldPct, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.ISIN,
			alert.Reason,
			prior,
			formatDecimal(alert.CurrentYieldPct, 2),
			formatDecimal(alert.DeltaPct, 2),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
