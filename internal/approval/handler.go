// Package approval consumes join-request events: it approves the request,
// records the requester as a broadcast recipient and sends a best-effort
// welcome message.
package approval

import (
	"context"
	"fmt"

	"gatebot/internal/store"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// RecipientStore persists approved requesters.
type RecipientStore interface {
	UpsertApproval(ctx context.Context, r store.Recipient, ch store.Channel) error
}

type Handler struct {
	adapter kit.Adapter
	store   RecipientStore
	log     logx.Logger
}

func New(adapter kit.Adapter, recipients RecipientStore, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{adapter: adapter, store: recipients, log: log}
}

// HandleJoinRequest approves one pending membership request. Persistence
// happens only after a successful approve; the welcome message is
// best-effort and never undoes either.
func (h *Handler) HandleJoinRequest(ctx context.Context, req *kit.JoinRequest) error {
	log := h.log.With(
		logx.Int64("user_id", req.UserID),
		logx.Int64("channel_id", req.ChannelID),
	)

	if err := h.adapter.ApproveJoinRequest(ctx, req.ChannelID, req.UserID); err != nil {
		log.Error("join request approve failed", logx.Err(err))
		return fmt.Errorf("approve join request: %w", err)
	}

	log.Info("join request approved",
		logx.String("username", req.Username),
		logx.String("channel", req.Title),
	)

	if err := h.store.UpsertApproval(ctx,
		store.Recipient{
			ID:        req.UserID,
			Username:  req.Username,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		},
		store.Channel{ID: req.ChannelID, Title: req.Title},
	); err != nil {
		log.Error("recipient persist failed", logx.Err(err))
		return fmt.Errorf("persist recipient: %w", err)
	}

	// The requester may have never started a private chat with the bot, so
	// this send can legitimately fail.
	welcome := fmt.Sprintf("Your join request for %q has been approved. Welcome!", req.Title)
	if _, err := h.adapter.SendText(ctx, kit.ChatTarget{ChatID: req.UserID}, welcome, nil); err != nil {
		log.Warn("welcome message failed", logx.Err(err))
	}

	return nil
}
