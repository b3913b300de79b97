package bot

import (
	"context"
	"fmt"
	"strings"

	"gatebot/internal/broadcast"
	"gatebot/internal/stats"
	kit "gatebot/internal/transport"
)

const startText = `Auto-approval bot

This bot automatically approves join requests in channels where it is an admin and records the requester for broadcasts.

Operator commands:
/broadcast - send a message to all recorded users
/cancel - cancel content capture or a running broadcast
/stats - show bot statistics`

const broadcastPromptText = `Send the message you want to broadcast.

Text, photo or video are accepted; captions and inline buttons are carried over.

Send /cancel at any time to stop.`

const notAuthorizedText = "You are not authorized to use this command."

// parseCommand extracts the command name from a "/cmd" or "/cmd@BotName"
// message. Reports false for non-command text.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0]
	cmd = strings.TrimPrefix(cmd, "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), cmd != ""
}

func (b *Bot) handleCommand(ctx context.Context, cmd string, m *kit.Message) error {
	to := kit.ChatTarget{ChatID: m.ChatID}

	switch cmd {
	case "start":
		_, err := b.adapter.SendText(ctx, to, startText, nil)
		return err

	case "broadcast":
		if !b.isOperator(m.FromID) {
			_, err := b.adapter.SendText(ctx, to, notAuthorizedText, nil)
			return err
		}
		if !b.sessions.BeginCapture(m.FromID) {
			_, err := b.adapter.SendText(ctx, to, "A broadcast is already in progress. Send /cancel first.", nil)
			return err
		}
		_, err := b.adapter.SendText(ctx, to, broadcastPromptText, nil)
		return err

	case "cancel":
		if !b.isOperator(m.FromID) {
			_, err := b.adapter.SendText(ctx, to, notAuthorizedText, nil)
			return err
		}
		var reply string
		switch b.sessions.Cancel(m.FromID) {
		case broadcast.CancelledCapture:
			reply = "Broadcast preparation cancelled."
		case broadcast.CancelRequested:
			reply = "Cancelling broadcast after the in-flight delivery..."
		default:
			reply = "No broadcast to cancel."
		}
		_, err := b.adapter.SendText(ctx, to, reply, nil)
		return err

	case "stats":
		if !b.isOperator(m.FromID) {
			_, err := b.adapter.SendText(ctx, to, notAuthorizedText, nil)
			return err
		}
		summary, err := stats.Collect(ctx, b.db)
		if err != nil {
			return fmt.Errorf("collect stats: %w", err)
		}
		_, err = b.adapter.SendText(ctx, to, stats.Render(summary), &kit.SendOptions{ParseMode: "HTML"})
		return err

	default:
		// Unknown commands are ignored; they don't clear an
		// awaiting-content session either.
		return nil
	}
}
