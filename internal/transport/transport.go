// Package transport declares the capability the sync engine needs from
// the wire-level chat client. The engine never talks to the network
// directly; it calls these methods from its own tasks and consumes the
// push event stream.
package transport

import (
	"context"
	"time"

	"chatsync/internal/events"
	"chatsync/internal/models"
)

// Pagination bounds one page of a message or channel query.
type Pagination struct {
	Limit    int
	OffsetID string // paginate relative to this message id
	Older    bool   // direction relative to OffsetID
}

// QueryChannelsRequest asks for one page of a channel-list query.
type QueryChannelsRequest struct {
	Filter       models.Filter
	Sort         models.Sort
	Limit        int
	Offset       int
	MessageLimit int
}

// QueryChannelsResponse is the server's ordered page of channels with
// their recent messages.
type QueryChannelsResponse struct {
	Channels []ChannelState
}

// QueryChannelRequest asks for one channel's state, optionally
// registering the client as a watcher.
type QueryChannelRequest struct {
	Watch    bool
	Messages Pagination
}

// ChannelState is a channel snapshot plus its recent messages, as
// returned by channel queries.
type ChannelState struct {
	Channel  models.Channel
	Messages []models.Message
	Members  []models.Member
	Reads    map[string]time.Time
}

// Client executes chat API calls and produces the realtime stream.
// Every call is safe to invoke from a suspension point and returns a
// result or an *Error.
type Client interface {
	QueryChannels(ctx context.Context, req QueryChannelsRequest) (*QueryChannelsResponse, error)
	QueryChannel(ctx context.Context, cid string, req QueryChannelRequest) (*ChannelState, error)
	CreateChannel(ctx context.Context, ch models.Channel) (*ChannelState, error)

	SendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (*models.Message, error)

	SendReaction(ctx context.Context, r models.Reaction, enforceUnique bool) (*models.Reaction, error)
	DeleteReaction(ctx context.Context, r models.Reaction) (*models.Reaction, error)

	MarkRead(ctx context.Context, cid string) error
	SendTypingEvent(ctx context.Context, cid string, start bool) error

	// SyncHistory returns the events missed for the given channels
	// since the given time, for gap-recovery replay.
	SyncHistory(ctx context.Context, cids []string, since time.Time) ([]events.Event, error)

	// Events is the push subscription. The channel is closed when the
	// client shuts down.
	Events() <-chan events.Event
}
