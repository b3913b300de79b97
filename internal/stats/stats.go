// Package stats aggregates recipient, channel and broadcast collections
// into the operator-facing statistics report. Pure aggregation, no
// mutation.
package stats

import (
	"context"
	"fmt"

	"gatebot/internal/store"
	"gatebot/pkg/tgui"
)

// Source is the read side of the store consumed by the reporter.
type Source interface {
	CountRecipients(ctx context.Context) (int64, error)
	CountChannels(ctx context.Context) (int64, error)
	RunTotals(ctx context.Context) (store.RunTotals, error)
}

type Summary struct {
	Recipients int64
	Channels   int64
	Runs       store.RunTotals
}

func Collect(ctx context.Context, src Source) (Summary, error) {
	var s Summary
	var err error
	if s.Recipients, err = src.CountRecipients(ctx); err != nil {
		return Summary{}, fmt.Errorf("count recipients: %w", err)
	}
	if s.Channels, err = src.CountChannels(ctx); err != nil {
		return Summary{}, fmt.Errorf("count channels: %w", err)
	}
	if s.Runs, err = src.RunTotals(ctx); err != nil {
		return Summary{}, fmt.Errorf("sum broadcast runs: %w", err)
	}
	return s, nil
}

// Render formats the summary for the operator chat in Telegram HTML.
func Render(s Summary) string {
	head := tgui.Lines(
		tgui.B("Bot statistics"),
		"",
		tgui.KV("Total users", s.Recipients),
		tgui.KV("Total channels", s.Channels),
	)
	if s.Runs.Runs == 0 {
		return tgui.Lines(head, tgui.I("No broadcasts sent yet")).String()
	}
	return tgui.Lines(
		head,
		tgui.KV("Total broadcasts", s.Runs.Runs),
		tgui.KV("Total recipients addressed", s.Runs.Total),
		tgui.KV("Total successful", s.Runs.Successful),
		tgui.KV("Total blocked", s.Runs.Blocked),
		tgui.KV("Total deleted", s.Runs.Deleted),
		tgui.KV("Total unsuccessful", s.Runs.Unsuccessful),
	).String()
}
