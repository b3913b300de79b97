package broadcast

import (
	"context"
	"fmt"
	"time"

	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// ReportStore receives the summary of a completed run.
type ReportStore interface {
	AppendRun(ctx context.Context, run store.BroadcastRun) error
}

// CancelSignal is polled once per recipient, before each delivery call.
type CancelSignal interface {
	Cancelled() bool
}

// Summary is the aggregate result of one run. On normal completion
// Processed() == Total; a cancelled run leaves it smaller.
type Summary struct {
	OperatorID   int64
	Kind         kit.ContentKind
	StartedAt    time.Time
	Total        int
	Successful   int
	Blocked      int
	Deleted      int
	Unsuccessful int
	Cancelled    bool
}

func (s Summary) Processed() int {
	return s.Successful + s.Blocked + s.Deleted + s.Unsuccessful
}

func (s Summary) Failed() int {
	return s.Blocked + s.Deleted + s.Unsuccessful
}

// Engine delivers one message to a recipient snapshot, sequentially and in
// order. Individual delivery failures are classified and counted, never
// propagated; only cancellation stops the loop early.
type Engine struct {
	adapter kit.Adapter
	reports ReportStore
	log     logx.Logger

	// cancelMarkup is the platform-specific "Cancel Broadcast" keyboard
	// attached to progress messages. Nil disables the affordance.
	cancelMarkup any
}

func NewEngine(adapter kit.Adapter, reports ReportStore, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{adapter: adapter, reports: reports, log: log}
}

// SetCancelMarkup installs the inline keyboard offered on progress messages.
func (e *Engine) SetCancelMarkup(markup any) { e.cancelMarkup = markup }

// progressEvery is the republish cadence: every N-th recipient by
// zero-based index, plus the final one.
const progressEvery = 10

// Run executes one broadcast: the recipient slice is the snapshot (late
// approvals are not contacted), signal is polled before each delivery, and
// notify is the operator chat receiving progress and the terminal summary.
//
// A completed run is persisted to the report store; a cancelled run is not,
// its partial counts are only reported to the operator.
func (e *Engine) Run(ctx context.Context, operatorID int64, content kit.Content, recipients []store.Recipient, signal CancelSignal, notify kit.ChatTarget) (Summary, error) {
	sum := Summary{
		OperatorID: operatorID,
		Kind:       content.Kind,
		StartedAt:  time.Now(),
		Total:      len(recipients),
	}

	if len(recipients) == 0 {
		if _, err := e.adapter.SendText(ctx, notify, "No users recorded yet. Nothing to broadcast.", nil); err != nil {
			e.log.Warn("empty-broadcast notice failed", logx.Err(err))
		}
		return sum, nil
	}

	e.log.Info("broadcast started",
		logx.Int64("operator_id", operatorID),
		logx.String("kind", string(content.Kind)),
		logx.Int("total", sum.Total),
	)

	ref, err := e.adapter.SendText(ctx, notify, renderProgressStart(sum.Total), e.progressOptions())
	if err != nil {
		// Progress is observability, not correctness: deliver anyway.
		e.log.Warn("progress message send failed", logx.Err(err))
	}

	for i, r := range recipients {
		if ctx.Err() != nil || (signal != nil && signal.Cancelled()) {
			sum.Cancelled = true
			break
		}

		if err := e.deliver(ctx, r.ID, content); err != nil {
			outcome := Classify(err.Error())
			switch outcome {
			case OutcomeBlocked:
				sum.Blocked++
			case OutcomeDeletedAccount:
				sum.Deleted++
			default:
				sum.Unsuccessful++
			}
			e.log.Warn("delivery failed",
				logx.Int64("recipient_id", r.ID),
				logx.String("outcome", outcome.String()),
				logx.Err(err),
			)
		} else {
			sum.Successful++
		}

		if i%progressEvery == 0 || i == len(recipients)-1 {
			e.publishProgress(ctx, ref, sum)
		}
	}

	if sum.Cancelled {
		e.log.Info("broadcast cancelled",
			logx.Int64("operator_id", operatorID),
			logx.Int("processed", sum.Processed()),
			logx.Int("total", sum.Total),
		)
		e.editSwallowed(ctx, ref, "Broadcast cancelled by operator.", nil)
		e.sendSwallowed(ctx, notify, "Broadcast cancelled. Partial results:")
		e.sendSwallowed(ctx, notify, RenderSummary(sum))
		return sum, nil
	}

	if err := e.reports.AppendRun(ctx, store.BroadcastRun{
		OperatorID:   sum.OperatorID,
		Kind:         string(sum.Kind),
		SentAt:       sum.StartedAt,
		Total:        sum.Total,
		Successful:   sum.Successful,
		Blocked:      sum.Blocked,
		Deleted:      sum.Deleted,
		Unsuccessful: sum.Unsuccessful,
	}); err != nil {
		e.log.Error("broadcast report persist failed", logx.Err(err))
		e.editSwallowed(ctx, ref, renderProgressDone(sum.Total), nil)
		e.sendSwallowed(ctx, notify, RenderSummary(sum))
		return sum, fmt.Errorf("persist broadcast report: %w", err)
	}

	e.log.Info("broadcast completed",
		logx.Int64("operator_id", operatorID),
		logx.Int("total", sum.Total),
		logx.Int("successful", sum.Successful),
		logx.Int("failed", sum.Failed()),
		logx.Duration("took", time.Since(sum.StartedAt)),
	)

	e.editSwallowed(ctx, ref, renderProgressDone(sum.Total), nil)
	e.sendSwallowed(ctx, notify, RenderSummary(sum))
	return sum, nil
}

func (e *Engine) deliver(ctx context.Context, recipientID int64, content kit.Content) error {
	to := kit.ChatTarget{ChatID: recipientID}
	opt := &kit.SendOptions{ReplyMarkup: content.Markup}
	switch content.Kind {
	case kit.ContentText:
		_, err := e.adapter.SendText(ctx, to, content.Text, opt)
		return err
	case kit.ContentPhoto:
		_, err := e.adapter.SendPhoto(ctx, to, content.FileID, content.Caption, opt)
		return err
	case kit.ContentVideo:
		_, err := e.adapter.SendVideo(ctx, to, content.FileID, content.Caption, opt)
		return err
	default:
		return fmt.Errorf("unsupported content kind %q", content.Kind)
	}
}

func (e *Engine) progressOptions() *kit.SendOptions {
	if e.cancelMarkup == nil {
		return nil
	}
	return &kit.SendOptions{ReplyMarkup: e.cancelMarkup}
}

// publishProgress edits the live indicator. Failures (e.g. the message can
// no longer be edited) never abort the run.
func (e *Engine) publishProgress(ctx context.Context, ref kit.MessageRef, sum Summary) {
	if ref.ChatID == 0 {
		return
	}
	if err := e.adapter.EditText(ctx, ref, renderProgress(sum), e.progressOptions()); err != nil {
		e.log.Warn("progress update failed", logx.Err(err))
	}
}

func (e *Engine) editSwallowed(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) {
	if ref.ChatID == 0 {
		return
	}
	if err := e.adapter.EditText(ctx, ref, text, opt); err != nil {
		e.log.Warn("terminal progress edit failed", logx.Err(err))
	}
}

func (e *Engine) sendSwallowed(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := e.adapter.SendText(ctx, to, text, nil); err != nil {
		e.log.Warn("operator notice failed", logx.Err(err))
	}
}

func renderProgressStart(total int) string {
	return fmt.Sprintf("Starting broadcast...\n0/%d (0%%)", total)
}

func renderProgress(sum Summary) string {
	processed := sum.Processed()
	pct := 0
	if sum.Total > 0 {
		pct = processed * 100 / sum.Total
	}
	return fmt.Sprintf("Broadcasting...\n%d/%d (%d%%)\n\n%d successful\n%d failed",
		processed, sum.Total, pct, sum.Successful, sum.Failed())
}

func renderProgressDone(total int) string {
	return fmt.Sprintf("Broadcast completed!\n%d users processed", total)
}

// RenderSummary formats the per-outcome counters for the operator.
func RenderSummary(sum Summary) string {
	return fmt.Sprintf(
		"Broadcast summary\n\nTotal users: %d\nSuccessful: %d\nBlocked users: %d\nDeleted accounts: %d\nUnsuccessful: %d",
		sum.Total, sum.Successful, sum.Blocked, sum.Deleted, sum.Unsuccessful,
	)
}
