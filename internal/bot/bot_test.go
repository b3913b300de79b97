package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gatebot/internal/approval"
	"gatebot/internal/broadcast"
	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type fakeAdapter struct {
	mu        sync.Mutex
	sent      []sentText
	delivered []int64
	answers   []string
}

type sentText struct {
	chatID int64
	text   string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                        { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chatID: to.ChatID, text: text})
	if to.ChatID > 0 && to.ChatID < 1000 {
		f.delivered = append(f.delivered, to.ChatID)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to kit.ChatTarget, fileID, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) SendVideo(ctx context.Context, to kit.ChatTarget, fileID, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) ApproveJoinRequest(ctx context.Context, channelID, userID int64) error {
	return nil
}

func (f *fakeAdapter) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s.text)
		}
	}
	return out
}

type fakeDB struct {
	recipients []store.Recipient
	runs       []store.BroadcastRun
}

func (f *fakeDB) Recipients(ctx context.Context) ([]store.Recipient, error) {
	return f.recipients, nil
}

func (f *fakeDB) CountRecipients(ctx context.Context) (int64, error) {
	return int64(len(f.recipients)), nil
}

func (f *fakeDB) CountChannels(ctx context.Context) (int64, error) { return 1, nil }

func (f *fakeDB) RunTotals(ctx context.Context) (store.RunTotals, error) {
	return store.RunTotals{Runs: int64(len(f.runs))}, nil
}

func (f *fakeDB) AppendRun(ctx context.Context, run store.BroadcastRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func newTestBot(t *testing.T, operators ...int64) (*Bot, *fakeAdapter, *fakeDB) {
	t.Helper()
	adapter := &fakeAdapter{}
	db := &fakeDB{}
	engine := broadcast.NewEngine(adapter, db, logx.Nop())
	approvals := approval.New(adapter, nil, logx.Nop())
	return New(adapter, db, engine, approvals, logx.Nop(), operators), adapter, db
}

func msg(fromID, chatID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID:  chatID,
			FromID:  fromID,
			Text:    text,
			Content: &kit.Content{Kind: kit.ContentText, Text: text},
		},
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in  string
		cmd string
		ok  bool
	}{
		{"/start", "start", true},
		{"/Broadcast", "broadcast", true},
		{"/stats@GatekeeperBot", "stats", true},
		{"/cancel extra words", "cancel", true},
		{"hello", "", false},
		{"  /stats ", "stats", true},
		{"/", "", false},
	}
	for _, tt := range tests {
		cmd, ok := parseCommand(tt.in)
		if cmd != tt.cmd || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tt.in, cmd, ok, tt.cmd, tt.ok)
		}
	}
}

func TestBroadcastRequiresOperator(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)

	b.Handle(context.Background(), msg(2000, 2000, "/broadcast"))

	texts := adapter.textsTo(2000)
	if len(texts) != 1 || texts[0] != notAuthorizedText {
		t.Fatalf("non-operator /broadcast replies = %v", texts)
	}
	if b.sessions.State(2000) != broadcast.StateIdle {
		t.Fatal("non-operator message must not open a session")
	}
}

func TestStartAnsweredForEveryone(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)

	b.Handle(context.Background(), msg(2000, 2000, "/start"))

	texts := adapter.textsTo(2000)
	if len(texts) != 1 || !strings.Contains(texts[0], "/broadcast") {
		t.Fatalf("/start reply = %v", texts)
	}
}

func TestBroadcastCaptureFlow(t *testing.T) {
	t.Parallel()
	b, adapter, db := newTestBot(t, 1000)
	db.recipients = []store.Recipient{{ID: 1}, {ID: 2}, {ID: 3}}

	ctx := context.Background()
	b.Handle(ctx, msg(1000, 1000, "/broadcast"))
	if b.sessions.State(1000) != broadcast.StateAwaitingContent {
		t.Fatal("operator /broadcast must open a capture session")
	}

	b.Handle(ctx, msg(1000, 1000, "hello everyone"))
	b.Wait()

	if got := adapter.delivered; len(got) != 3 {
		t.Fatalf("delivered to %v, want 3 recipients", got)
	}
	if len(db.runs) != 1 || db.runs[0].Successful != 3 {
		t.Fatalf("persisted runs = %+v", db.runs)
	}
	if b.sessions.State(1000) != broadcast.StateIdle {
		t.Fatal("session must be released after the run")
	}
}

func TestOrdinaryTextWithoutSessionIgnored(t *testing.T) {
	t.Parallel()
	b, adapter, db := newTestBot(t, 1000)
	db.recipients = []store.Recipient{{ID: 1}}

	b.Handle(context.Background(), msg(1000, 1000, "just chatting"))
	b.Wait()

	if len(adapter.delivered) != 0 || len(db.runs) != 0 {
		t.Fatalf("unexpected broadcast: delivered=%v runs=%v", adapter.delivered, db.runs)
	}
}

func TestCancelWithoutBroadcast(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)

	b.Handle(context.Background(), msg(1000, 1000, "/cancel"))

	texts := adapter.textsTo(1000)
	if len(texts) != 1 || texts[0] != "No broadcast to cancel." {
		t.Fatalf("/cancel replies = %v", texts)
	}
}

func TestCancelDuringCapture(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)
	ctx := context.Background()

	b.Handle(ctx, msg(1000, 1000, "/broadcast"))
	b.Handle(ctx, msg(1000, 1000, "/cancel"))

	if b.sessions.State(1000) != broadcast.StateIdle {
		t.Fatal("cancel during capture must release the session")
	}
	texts := adapter.textsTo(1000)
	if len(texts) != 2 || texts[1] != "Broadcast preparation cancelled." {
		t.Fatalf("replies = %v", texts)
	}
}

func TestCancelCallbackUnauthorized(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)

	b.Handle(context.Background(), kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb1", FromID: 2000, Data: cancelCallbackData},
	})

	if len(adapter.answers) != 1 || !strings.Contains(adapter.answers[0], "not authorized") {
		t.Fatalf("callback answers = %v", adapter.answers)
	}
}

func TestOperatorReloadRevokesAccess(t *testing.T) {
	t.Parallel()
	b, adapter, _ := newTestBot(t, 1000)

	b.Apply([]int64{3000})
	b.Handle(context.Background(), msg(1000, 1000, "/stats"))

	texts := adapter.textsTo(1000)
	if len(texts) != 1 || texts[0] != notAuthorizedText {
		t.Fatalf("revoked operator /stats replies = %v", texts)
	}
}

func TestHandleRecoversPanic(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBot(t, 1000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// A nil message with a message kind exercises the recover path only
		// if dispatch panics; guarded dispatch should simply ignore it.
		b.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle did not return")
	}
}
