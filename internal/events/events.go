// Package events defines the closed set of realtime events the engine
// consumes. Every handler switches exhaustively over these types, so a
// new event kind is a compile-time obligation across the reconciler and
// both controller projections.
package events

import (
	"sort"
	"time"

	"chatsync/internal/models"
)

// Event is one realtime event delivered by the transport. The marker
// method keeps the set closed to this package.
type Event interface {
	EventCreatedAt() time.Time
	chatEvent()
}

// HasCID is implemented by events scoped to a single channel.
type HasCID interface {
	Event
	EventCID() string
}

// HasUnreadCounts is implemented by events that carry the current
// user's unread counters.
type HasUnreadCounts interface {
	Event
	UnreadCounts() (total, channels int)
}

type Base struct {
	CreatedAt time.Time
}

func (b Base) EventCreatedAt() time.Time { return b.CreatedAt }
func (Base) chatEvent()                  {}

type ChannelBase struct {
	Base
	CID string
}

func (c ChannelBase) EventCID() string { return c.CID }

type Unread struct {
	TotalUnread    int
	UnreadChannels int
}

func (u Unread) UnreadCounts() (int, int) { return u.TotalUnread, u.UnreadChannels }

// At builds the shared timestamp portion of an event.
func At(t time.Time) Base { return Base{CreatedAt: t} }

// ChannelAt builds the shared cid+timestamp portion of an event.
func ChannelAt(cid string, t time.Time) ChannelBase {
	return ChannelBase{Base: Base{CreatedAt: t}, CID: cid}
}

// WithUnread builds the unread-counter portion of an event.
func WithUnread(total, channels int) Unread {
	return Unread{TotalUnread: total, UnreadChannels: channels}
}

// MessageNew signals a new message in a watched channel.
type MessageNew struct {
	ChannelBase
	Unread
	Message models.Message
	User    *models.User
}

// MessageUpdated signals an edit to an existing message.
type MessageUpdated struct {
	ChannelBase
	Message models.Message
	User    *models.User
}

// MessageDeleted signals a soft delete of a message.
type MessageDeleted struct {
	ChannelBase
	Message models.Message
}

// MessageRead signals that a user read a channel up to the event time.
type MessageRead struct {
	ChannelBase
	Unread
	UserID string
}

// ReactionNew signals a reaction added to a message.
type ReactionNew struct {
	ChannelBase
	Reaction models.Reaction
	Message  *models.Message // server snapshot, used when the message is not cached
}

// ReactionUpdated signals a reaction score/type change by the same user.
type ReactionUpdated struct {
	ChannelBase
	Reaction models.Reaction
	Message  *models.Message
}

// ReactionDeleted signals a reaction removed from a message.
type ReactionDeleted struct {
	ChannelBase
	Reaction models.Reaction
	Message  *models.Message
}

// MemberAdded signals a user joining a channel.
type MemberAdded struct {
	ChannelBase
	Member models.Member
	User   *models.User
}

// MemberUpdated signals a membership role change.
type MemberUpdated struct {
	ChannelBase
	Member models.Member
	User   *models.User
}

// MemberRemoved signals a user leaving a channel.
type MemberRemoved struct {
	ChannelBase
	UserID string
}

// ChannelUpdated carries a fresh channel snapshot.
type ChannelUpdated struct {
	ChannelBase
	Channel models.Channel
}

// ChannelHidden toggles the hidden flag, optionally with a history cutoff.
type ChannelHidden struct {
	ChannelBase
	ClearHistory       bool
	HideMessagesBefore *time.Time
}

// ChannelVisible clears the hidden flag.
type ChannelVisible struct {
	ChannelBase
}

// ChannelDeleted soft-deletes a channel.
type ChannelDeleted struct {
	ChannelBase
	DeletedAt time.Time
}

// ChannelTruncated deletes all channel messages before the cutoff.
type ChannelTruncated struct {
	ChannelBase
	TruncatedAt time.Time
}

// NotificationAddedToChannel tells the current user they were added to
// a channel they are not watching.
type NotificationAddedToChannel struct {
	ChannelBase
	Unread
	Channel models.Channel
}

// NotificationMessageNew signals a message in a non-watched channel.
type NotificationMessageNew struct {
	ChannelBase
	Unread
	Channel *models.Channel
	Message models.Message
}

// NotificationMarkRead confirms a mark-read issued by this user.
type NotificationMarkRead struct {
	ChannelBase
	Unread
	UserID string
}

// NotificationChannelDeleted mirrors ChannelDeleted for non-watched channels.
type NotificationChannelDeleted struct {
	ChannelBase
	DeletedAt time.Time
}

// NotificationChannelTruncated mirrors ChannelTruncated for non-watched channels.
type NotificationChannelTruncated struct {
	ChannelBase
	TruncatedAt time.Time
}

// TypingStart signals a user started typing.
type TypingStart struct {
	ChannelBase
	UserID string
}

// TypingStop signals a user stopped typing.
type TypingStop struct {
	ChannelBase
	UserID string
}

// UserBanned marks a user as banned.
type UserBanned struct {
	Base
	UserID string
}

// UserUnbanned clears a user's ban flag.
type UserUnbanned struct {
	Base
	UserID string
}

// UserUpdated carries a fresh user snapshot (includes mute list changes).
type UserUpdated struct {
	Base
	User models.User
}

// UserPresenceChanged signals an online/offline transition for a user.
type UserPresenceChanged struct {
	Base
	User models.User
}

// MarkAllRead confirms that every channel was marked read.
type MarkAllRead struct {
	Base
	Unread
	UserID string
}

// Connected signals the transport established its push connection. Me
// is the server's view of the current user.
type Connected struct {
	Base
	Unread
	Me models.User
}

// Disconnected signals the push connection dropped.
type Disconnected struct {
	Base
	Err error
}

// ConnectionRecovered signals the transport re-established its push
// connection after a gap.
type ConnectionRecovered struct {
	Base
}

// SortBatch orders a batch by server-assigned creation time. The sort
// is stable so same-timestamp events keep their delivery order.
func SortBatch(batch []Event) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].EventCreatedAt().Before(batch[j].EventCreatedAt())
	})
}
