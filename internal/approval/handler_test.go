package approval

import (
	"context"
	"errors"
	"testing"

	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type fakeAdapter struct {
	approveErr error
	sendErr    error

	approved []int64
	welcomed []int64
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.welcomed = append(f.welcomed, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
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
func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }
func (f *fakeAdapter) ApproveJoinRequest(ctx context.Context, channelID, userID int64) error {
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, userID)
	return nil
}

type fakeStore struct {
	upserts int
	err     error
}

func (s *fakeStore) UpsertApproval(ctx context.Context, r store.Recipient, ch store.Channel) error {
	if s.err != nil {
		return s.err
	}
	s.upserts++
	return nil
}

func request() *kit.JoinRequest {
	return &kit.JoinRequest{UserID: 7, Username: "u", ChannelID: -100, Title: "Chan"}
}

func TestHandleJoinRequest(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	fs := &fakeStore{}
	h := New(fa, fs, logx.Nop())

	if err := h.HandleJoinRequest(context.Background(), request()); err != nil {
		t.Fatalf("HandleJoinRequest: %v", err)
	}
	if len(fa.approved) != 1 || fa.approved[0] != 7 {
		t.Fatalf("approved = %v", fa.approved)
	}
	if fs.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", fs.upserts)
	}
	if len(fa.welcomed) != 1 || fa.welcomed[0] != 7 {
		t.Fatalf("welcomed = %v", fa.welcomed)
	}
}

func TestApproveFailureWritesNothing(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{approveErr: errors.New("CHAT_ADMIN_REQUIRED")}
	fs := &fakeStore{}
	h := New(fa, fs, logx.Nop())

	if err := h.HandleJoinRequest(context.Background(), request()); err == nil {
		t.Fatal("expected error when approve fails")
	}
	if fs.upserts != 0 {
		t.Fatal("recipient persisted despite approve failure")
	}
	if len(fa.welcomed) != 0 {
		t.Fatal("welcome sent despite approve failure")
	}
}

func TestWelcomeFailureKeepsApproval(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{sendErr: errors.New("Forbidden: bot can't initiate conversation")}
	fs := &fakeStore{}
	h := New(fa, fs, logx.Nop())

	if err := h.HandleJoinRequest(context.Background(), request()); err != nil {
		t.Fatalf("welcome failure must not surface: %v", err)
	}
	if fs.upserts != 1 {
		t.Fatal("recipient not persisted")
	}
}
