// Package transport defines the platform-neutral boundary between the bot
// core and the chat platform: inbound update shapes and the outbound
// Adapter capability set.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateCallback    UpdateKind = "callback"
	UpdateJoinRequest UpdateKind = "join_request"
)

type Update struct {
	Kind        UpdateKind
	Message     *Message
	Callback    *Callback
	JoinRequest *JoinRequest
}

// ContentKind is the broadcastable payload type of a message.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentPhoto ContentKind = "photo"
	ContentVideo ContentKind = "video"
)

// Content is a broadcastable message payload. For photo/video, FileID
// references media already stored by the platform, so fan-out never
// re-uploads bytes.
type Content struct {
	Kind    ContentKind
	Text    string
	Caption string
	FileID  string
	// Markup carries the original message's reply markup, adapter-specific
	// (Telegram: *telebot.ReplyMarkup). Nil for plain messages.
	Markup any
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Content is non-nil when the message is a valid broadcast payload.
	Content *Content
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// JoinRequest is a pending membership request to a managed channel.
type JoinRequest struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	ChannelID int64
	Title     string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkup any
}

// Adapter is the platform capability set consumed by the bot core.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, fileID, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	ApproveJoinRequest(ctx context.Context, channelID, userID int64) error
}
