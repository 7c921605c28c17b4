package transport

import (
	"context"
	"errors"
)

// MediaKind classifies a submitted media item.
//
// The empty string doubles as the "nothing submitted" sentinel so the
// persisted snapshot stays readable.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// ErrRecipientUnreachable marks a delivery failure that is permanent for the
// recipient (blocked the bot, deactivated account, chat gone). Adapters wrap
// their platform errors with it so callers can classify via errors.Is without
// importing platform packages.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateMember  UpdateKind = "member"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberEvent
}

// Message is an inbound message, private or group.
// Media is non-nil when the message carries a photo or video.
type Message struct {
	ID        int
	ChatID    int64
	FromID    int64
	FromName  string
	Username  string
	Text      string
	IsPrivate bool
	Media     *Media
}

// Media references a transport-held media item by its platform handle.
// The bot never downloads media; it redistributes by reference.
type Media struct {
	Kind MediaKind
	Ref  string
}

// MemberEvent reports a chat membership change observed by the adapter.
// IsSelf is true when the member is the bot itself (added to / removed from
// a group).
type MemberEvent struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	IsSelf    bool
	Joined    bool
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the transport boundary: one delivery attempt per call, raw
// platform errors returned (wrapped with ErrRecipientUnreachable when the
// failure is permanent for that recipient).
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error
	SendPhoto(ctx context.Context, chatID int64, ref, caption string, opt *SendOptions) error
	SendVideo(ctx context.Context, chatID int64, ref string, opt *SendOptions) error
}

// MemberLister enumerates the current member ids of a group chat.
// The result is finite and recomputed per call.
type MemberLister interface {
	Members(ctx context.Context, chatID int64) ([]int64, error)
}
