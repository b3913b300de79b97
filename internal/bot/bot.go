// Package bot routes inbound platform updates to the approval handler, the
// broadcast session machinery and the operator commands.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"gatebot/internal/approval"
	"gatebot/internal/broadcast"
	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

// cancelCallbackData identifies the "Cancel Broadcast" inline button.
const cancelCallbackData = "bcast:cancel"

// Store is the read side the router needs: the broadcast snapshot plus the
// statistics aggregates.
type Store interface {
	Recipients(ctx context.Context) ([]store.Recipient, error)
	CountRecipients(ctx context.Context) (int64, error)
	CountChannels(ctx context.Context) (int64, error)
	RunTotals(ctx context.Context) (store.RunTotals, error)
}

type Bot struct {
	adapter   kit.Adapter
	db        Store
	engine    *broadcast.Engine
	approvals *approval.Handler
	sessions  *broadcast.Sessions
	log       logx.Logger

	mu        sync.Mutex
	operators map[int64]struct{}

	// runWG tracks in-flight broadcast goroutines for shutdown.
	runWG sync.WaitGroup
}

func New(adapter kit.Adapter, db Store, engine *broadcast.Engine, approvals *approval.Handler, log logx.Logger, operatorIDs []int64) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		adapter:   adapter,
		db:        db,
		engine:    engine,
		approvals: approvals,
		sessions:  broadcast.NewSessions(),
		log:       log,
		operators: operatorSet(operatorIDs),
	}
	engine.SetCancelMarkup(tgui.NewInline().
		Row(tgui.Btn("Cancel Broadcast", cancelCallbackData)).
		Markup())
	return b
}

func operatorSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// Apply replaces the operator allow-list on config reload.
func (b *Bot) Apply(operatorIDs []int64) {
	b.mu.Lock()
	b.operators = operatorSet(operatorIDs)
	b.mu.Unlock()
}

func (b *Bot) isOperator(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.operators[id]
	return ok
}

// Wait blocks until in-flight broadcast runs have drained.
func (b *Bot) Wait() { b.runWG.Wait() }

// Handle dispatches one update. It never panics the update loop and logs
// slow or failed handling.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic recovered in update handler",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	var err error
	switch up.Kind {
	case kit.UpdateJoinRequest:
		if up.JoinRequest != nil {
			err = b.approvals.HandleJoinRequest(ctx, up.JoinRequest)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			err = b.handleCallback(ctx, up.Callback)
		}
	case kit.UpdateMessage:
		if up.Message != nil {
			err = b.handleMessage(ctx, up.Message)
		}
	}

	d := time.Since(start)
	fields := []logx.Field{
		logx.String("kind", string(up.Kind)),
		logx.Duration("dur", d),
	}
	if err != nil {
		b.log.Warn("update failed", append(fields, logx.Err(err))...)
	} else if d >= 750*time.Millisecond {
		b.log.Info("update ok", fields...)
	} else {
		b.log.Debug("update ok", fields...)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *kit.Callback) error {
	if cb.Data != cancelCallbackData {
		return nil
	}
	if !b.isOperator(cb.FromID) {
		return b.adapter.AnswerCallback(ctx, cb.ID, "You are not authorized to do that.")
	}

	switch b.sessions.Cancel(cb.FromID) {
	case broadcast.CancelRequested:
		return b.adapter.AnswerCallback(ctx, cb.ID, "Cancelling broadcast...")
	case broadcast.CancelledCapture:
		return b.adapter.AnswerCallback(ctx, cb.ID, "Broadcast preparation cancelled.")
	default:
		return b.adapter.AnswerCallback(ctx, cb.ID, "No broadcast to cancel.")
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *kit.Message) error {
	if cmd, ok := parseCommand(m.Text); ok {
		return b.handleCommand(ctx, cmd, m)
	}
	return b.captureContent(ctx, m)
}

// captureContent hands a qualifying message from an operator awaiting
// content to the broadcast engine. Anything else is ignored and leaves the
// session state untouched.
func (b *Bot) captureContent(ctx context.Context, m *kit.Message) error {
	if m.Content == nil || !b.isOperator(m.FromID) {
		return nil
	}
	if b.sessions.State(m.FromID) != broadcast.StateAwaitingContent {
		return nil
	}
	session, ok := b.sessions.Capture(m.FromID)
	if !ok {
		return nil
	}

	recipients, err := b.db.Recipients(ctx)
	if err != nil {
		b.sessions.Finish(m.FromID)
		return fmt.Errorf("load recipients: %w", err)
	}

	operatorID := m.FromID
	content := *m.Content
	notify := kit.ChatTarget{ChatID: m.ChatID}

	// The run blocks on per-recipient platform round-trips; keep consuming
	// updates (cancel commands included) while it proceeds.
	b.runWG.Add(1)
	go func() {
		defer b.runWG.Done()
		defer b.sessions.Finish(operatorID)
		if _, err := b.engine.Run(ctx, operatorID, content, recipients, session, notify); err != nil {
			b.log.Error("broadcast run failed", logx.Int64("operator_id", operatorID), logx.Err(err))
		}
	}()
	return nil
}
