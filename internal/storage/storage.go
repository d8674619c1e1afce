// Package storage is the persistence adapter: typed CRUD over named
// entity collections, backed by bbolt. Controllers and the reconciler
// only see the Store interface; the engine ships BboltStore as its
// default implementation.
package storage

import (
	"time"

	"chatsync/internal/models"
)

// MessageFilter bounds one page of a channel's message history.
// Messages come back ordered by creation time ascending.
type MessageFilter struct {
	Limit  int
	Before *time.Time // strictly earlier than
	After  *time.Time // strictly later than
}

// Batch is the net output of one reconcile pass. InsertBatch commits
// it in a single transaction, users first so channel and message
// references resolve against persisted users.
type Batch struct {
	Users    []models.User
	Channels []models.Channel
	Messages []models.Message
}

func (b Batch) Empty() bool {
	return len(b.Users) == 0 && len(b.Channels) == 0 && len(b.Messages) == 0
}

type UserStore interface {
	SelectUsers(ids []string) ([]models.User, error)
	InsertUsers(users []models.User) error
}

type ChannelStore interface {
	SelectChannels(cids []string) ([]models.Channel, error)
	SelectAllChannels() ([]models.Channel, error)
	InsertChannels(channels []models.Channel) error
	SelectChannelsSyncNeeded() ([]models.Channel, error)
}

type MessageStore interface {
	SelectMessages(ids []string) ([]models.Message, error)
	SelectMessagesForChannel(cid string, f MessageFilter) ([]models.Message, error)
	InsertMessages(messages []models.Message) error
	DeleteChannelMessagesBefore(cid string, cutoff time.Time) error
	SelectMessagesSyncNeeded() ([]models.Message, error)
}

type ReactionStore interface {
	InsertReactions(reactions []models.Reaction) error
	DeleteReaction(r models.Reaction) error
	SelectReactionsSyncNeeded() ([]models.Reaction, error)
}

type ChannelConfigStore interface {
	SelectChannelConfigs() ([]models.ChannelConfig, error)
	InsertChannelConfigs(configs []models.ChannelConfig) error
}

type SyncStateStore interface {
	SelectSyncState(userID string) (*models.SyncState, error)
	InsertSyncState(state models.SyncState) error
}

type QueryStore interface {
	SelectQuery(id string) (*models.QueryChannelsSpec, error)
	InsertQuery(q models.QueryChannelsSpec) error
}

// Store is the full persistence adapter capability.
type Store interface {
	UserStore
	ChannelStore
	MessageStore
	ReactionStore
	ChannelConfigStore
	SyncStateStore
	QueryStore

	// InsertBatch commits one reconcile pass atomically.
	InsertBatch(b Batch) error

	// Reset wipes every collection. Bound to user logout.
	Reset() error
	Close() error
}
