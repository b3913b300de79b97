package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type fakeAdapter struct {
	mu sync.Mutex

	// failures maps recipient chat id to a delivery error description.
	failures map[int64]string

	delivered []int64 // recipient ids, in delivery order
	sentTexts []string
	edits     []string
	nextMsgID int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failures: map[int64]string{}}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) send(to kit.ChatTarget, text string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc, ok := f.failures[to.ChatID]; ok {
		return kit.MessageRef{}, errors.New(desc)
	}
	f.delivered = append(f.delivered, to.ChatID)
	f.sentTexts = append(f.sentTexts, text)
	f.nextMsgID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsgID}, nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to, text)
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, fileID, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to, "photo:"+fileID)
}

func (f *fakeAdapter) SendVideo(ctx context.Context, to kit.ChatTarget, fileID, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.send(to, "video:"+fileID)
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }
func (f *fakeAdapter) ApproveJoinRequest(ctx context.Context, channelID, userID int64) error {
	return nil
}

// deliveredTo reports deliveries to real recipients, excluding the operator
// chat that receives progress and summary messages.
func (f *fakeAdapter) deliveredTo(notify int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, id := range f.delivered {
		if id != notify {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeAdapter) progressEdits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.edits {
		if strings.HasPrefix(e, "Broadcasting...") {
			out = append(out, e)
		}
	}
	return out
}

type fakeReports struct {
	mu   sync.Mutex
	runs []store.BroadcastRun
}

func (r *fakeReports) AppendRun(ctx context.Context, run store.BroadcastRun) error {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
	return nil
}

type signalFunc func() bool

func (f signalFunc) Cancelled() bool { return f() }

func never() bool { return false }

func recipients(n int) []store.Recipient {
	out := make([]store.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, store.Recipient{ID: int64(i)})
	}
	return out
}

const notifyChat int64 = 9000

func textContent(s string) kit.Content {
	return kit.Content{Kind: kit.ContentText, Text: s}
}

func TestRunCountsWithBlockedRecipient(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.failures[2] = "Forbidden: bot was blocked by the user"
	reports := &fakeReports{}
	e := NewEngine(fa, reports, logx.Nop())

	sum, err := e.Run(context.Background(), op, textContent("hi"), recipients(3), signalFunc(never), kit.ChatTarget{ChatID: notifyChat})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Total != 3 || sum.Successful != 2 || sum.Blocked != 1 || sum.Deleted != 0 || sum.Unsuccessful != 0 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.Cancelled {
		t.Fatal("run reported cancelled")
	}
	if sum.Processed() != sum.Total {
		t.Fatalf("processed %d != total %d on normal completion", sum.Processed(), sum.Total)
	}
	if got := fa.deliveredTo(notifyChat); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("delivered = %v, want [1 3]", got)
	}
	if len(reports.runs) != 1 {
		t.Fatalf("persisted runs = %d, want 1", len(reports.runs))
	}
	run := reports.runs[0]
	if run.Total != 3 || run.Successful != 2 || run.Blocked != 1 {
		t.Fatalf("persisted run = %+v", run)
	}
}

func TestRunCancelledAfterFirstRecipient(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	reports := &fakeReports{}
	e := NewEngine(fa, reports, logx.Nop())

	// Cancel once the first recipient has been processed.
	signal := signalFunc(func() bool {
		return len(fa.deliveredTo(notifyChat)) >= 1
	})

	sum, err := e.Run(context.Background(), op, textContent("hi"), recipients(10), signal, kit.ChatTarget{ChatID: notifyChat})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !sum.Cancelled {
		t.Fatal("run not reported cancelled")
	}
	if sum.Processed() != 1 {
		t.Fatalf("processed = %d, want 1", sum.Processed())
	}
	if got := fa.deliveredTo(notifyChat); len(got) != 1 {
		t.Fatalf("delivery calls after cancel: %v", got)
	}
	if len(reports.runs) != 0 {
		t.Fatalf("cancelled run was persisted: %+v", reports.runs)
	}
}

func TestRunEmptyRecipientSet(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	reports := &fakeReports{}
	e := NewEngine(fa, reports, logx.Nop())

	sum, err := e.Run(context.Background(), op, textContent("hi"), nil, signalFunc(never), kit.ChatTarget{ChatID: notifyChat})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 0 || sum.Processed() != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(reports.runs) != 0 {
		t.Fatal("empty broadcast must not create a run record")
	}
	// One informational message, no progress indicator.
	if len(fa.sentTexts) != 1 {
		t.Fatalf("sent = %v, want a single notice", fa.sentTexts)
	}
}

func TestRunProgressCadence(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	e := NewEngine(fa, &fakeReports{}, logx.Nop())

	sum, err := e.Run(context.Background(), op, textContent("hi"), recipients(25), signalFunc(never), kit.ChatTarget{ChatID: notifyChat})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Successful != 25 {
		t.Fatalf("successful = %d, want 25", sum.Successful)
	}

	// Zero-based indices 0, 10, 20 plus the final index 24.
	edits := fa.progressEdits()
	if len(edits) != 4 {
		t.Fatalf("progress edits = %d (%v), want 4", len(edits), edits)
	}
	if !strings.Contains(edits[0], "1/25") || !strings.Contains(edits[1], "11/25") ||
		!strings.Contains(edits[2], "21/25") || !strings.Contains(edits[3], "25/25 (100%)") {
		t.Fatalf("unexpected progress bodies: %v", edits)
	}

	// Terminal edit drops the cancel affordance and reports totals.
	last := fa.edits[len(fa.edits)-1]
	if !strings.Contains(last, "Broadcast completed!") || !strings.Contains(last, "25 users processed") {
		t.Fatalf("terminal edit = %q", last)
	}
}

func TestRunPhotoAndVideoDispatch(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		kind kit.ContentKind
		want string
	}{
		{kind: kit.ContentPhoto, want: "photo:file-1"},
		{kind: kit.ContentVideo, want: "video:file-1"},
	} {
		fa := newFakeAdapter()
		e := NewEngine(fa, &fakeReports{}, logx.Nop())
		content := kit.Content{Kind: tt.kind, FileID: "file-1", Caption: "cap"}

		sum, err := e.Run(context.Background(), op, content, recipients(1), signalFunc(never), kit.ChatTarget{ChatID: notifyChat})
		if err != nil {
			t.Fatalf("Run(%s): %v", tt.kind, err)
		}
		if sum.Successful != 1 {
			t.Fatalf("%s: successful = %d, want 1", tt.kind, sum.Successful)
		}
		found := false
		for _, s := range fa.sentTexts {
			if s == tt.want {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s: no %q among %v", tt.kind, tt.want, fa.sentTexts)
		}
	}
}

func TestRunContextCancelStopsLoop(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	reports := &fakeReports{}
	e := NewEngine(fa, reports, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := e.Run(ctx, op, textContent("hi"), recipients(5), signalFunc(never), kit.ChatTarget{ChatID: notifyChat})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.Cancelled || sum.Processed() != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(reports.runs) != 0 {
		t.Fatal("ctx-cancelled run was persisted")
	}
}
