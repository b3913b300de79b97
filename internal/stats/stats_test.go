package stats

import (
	"context"
	"strings"
	"testing"

	"gatebot/internal/store"
)

type fakeSource struct {
	recipients int64
	channels   int64
	totals     store.RunTotals
}

func (f *fakeSource) CountRecipients(ctx context.Context) (int64, error) { return f.recipients, nil }
func (f *fakeSource) CountChannels(ctx context.Context) (int64, error)   { return f.channels, nil }
func (f *fakeSource) RunTotals(ctx context.Context) (store.RunTotals, error) {
	return f.totals, nil
}

func TestRenderNoBroadcasts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{recipients: 12, channels: 3}

	s, err := Collect(context.Background(), src)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := Render(s)
	if !strings.HasPrefix(out, "<b>Bot statistics</b>") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "Total users: 12") || !strings.Contains(out, "Total channels: 3") {
		t.Fatalf("missing totals: %q", out)
	}
	if !strings.Contains(out, "<i>No broadcasts sent yet</i>") {
		t.Fatalf("missing no-broadcast line: %q", out)
	}
}

func TestRenderWithBroadcasts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		recipients: 12,
		channels:   3,
		totals: store.RunTotals{
			Runs: 2, Total: 20, Successful: 15, Blocked: 2, Deleted: 1, Unsuccessful: 2,
		},
	}

	s, err := Collect(context.Background(), src)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := Render(s)
	for _, want := range []string{
		"Total broadcasts: 2",
		"Total recipients addressed: 20",
		"Total successful: 15",
		"Total blocked: 2",
		"Total deleted: 1",
		"Total unsuccessful: 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
