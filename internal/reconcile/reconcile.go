// Package reconcile merges batches of realtime events into persisted
// state. One pass prefetches every entity the batch references, applies
// the per-kind merge rules against that base state, and commits the net
// mutations in a single storage transaction.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/storage"
)

// Result carries the side effects one batch surfaces after commit.
type Result struct {
	// CurrentUser is set when the batch carried a current-user update;
	// it is applied via the coordinator's own path, not the user table
	// alone.
	CurrentUser *models.User

	HasUnreadCounts bool
	TotalUnread     int
	UnreadChannels  int

	// ConnectionChanged/Online report a connectivity transition seen in
	// the batch; Recovered marks a post-gap reconnect.
	ConnectionChanged bool
	Online            bool
	Recovered         bool
}

type Reconciler struct {
	store         storage.Store
	currentUserID string
	log           *slog.Logger
}

func New(store storage.Store, currentUserID string, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, currentUserID: currentUserID, log: log}
}

type truncation struct {
	cid    string
	cutoff time.Time
}

// batchState accumulates the net mutations of one pass. Reads go
// through the get helpers so repeated events about the same entity
// merge against in-batch state, not the stale prefetch.
type batchState struct {
	baseChannels map[string]models.Channel
	baseMessages map[string]models.Message
	baseUsers    map[string]models.User

	users    map[string]models.User
	channels map[string]models.Channel
	messages map[string]models.Message

	truncations []truncation
}

func (b *batchState) getChannel(cid string) (models.Channel, bool) {
	if ch, ok := b.channels[cid]; ok {
		return ch, true
	}
	if ch, ok := b.baseChannels[cid]; ok {
		return ch.Clone(), true
	}
	return models.Channel{}, false
}

func (b *batchState) getMessage(id string) (models.Message, bool) {
	if m, ok := b.messages[id]; ok {
		return m, true
	}
	if m, ok := b.baseMessages[id]; ok {
		return m.Clone(), true
	}
	return models.Message{}, false
}

func (b *batchState) getUser(id string) (models.User, bool) {
	if u, ok := b.users[id]; ok {
		return u, true
	}
	if u, ok := b.baseUsers[id]; ok {
		return u.Clone(), true
	}
	return models.User{}, false
}

// ProcessBatch reconciles one delivered batch. A prefetch failure
// aborts the whole pass without applying anything; the next batch or a
// recovery run restores consistency.
func (r *Reconciler) ProcessBatch(ctx context.Context, batch []events.Event) (*Result, error) {
	if len(batch) == 0 {
		return &Result{}, nil
	}

	sorted := make([]events.Event, len(batch))
	copy(sorted, batch)
	events.SortBatch(sorted)

	state, err := r.prefetch(sorted)
	if err != nil {
		return nil, fmt.Errorf("reconcile prefetch: %w", err)
	}

	result := &Result{}
	for _, ev := range sorted {
		r.apply(state, ev, result)
	}

	// The current user never goes through the plain user upsert; the
	// coordinator reconciles mutes and the ban flag itself.
	if u, ok := state.users[r.currentUserID]; ok {
		result.CurrentUser = &u
		delete(state.users, r.currentUserID)
	}

	commit := storage.Batch{
		Users:    mapValues(state.users),
		Channels: mapValues(state.channels),
		Messages: mapValues(state.messages),
	}
	if err := r.store.InsertBatch(commit); err != nil {
		return nil, fmt.Errorf("reconcile commit: %w", err)
	}

	for _, t := range state.truncations {
		if err := r.store.DeleteChannelMessagesBefore(t.cid, t.cutoff); err != nil {
			return nil, fmt.Errorf("reconcile truncate %s: %w", t.cid, err)
		}
	}

	r.log.Debug("reconciled event batch",
		"events", len(sorted),
		"users", len(commit.Users),
		"channels", len(commit.Channels),
		"messages", len(commit.Messages))

	return result, nil
}

// prefetch computes the minimal set of entities the batch references
// and loads them in one round-trip per collection.
func (r *Reconciler) prefetch(batch []events.Event) (*batchState, error) {
	cidSet := map[string]bool{}
	msgSet := map[string]bool{}
	userSet := map[string]bool{}
	allChannels := false

	for _, ev := range batch {
		if ce, ok := ev.(events.HasCID); ok && ce.EventCID() != "" {
			cidSet[ce.EventCID()] = true
		}
		switch e := ev.(type) {
		case events.MessageNew:
			msgSet[e.Message.ID] = true
		case events.NotificationMessageNew:
			msgSet[e.Message.ID] = true
		case events.MessageUpdated:
			msgSet[e.Message.ID] = true
		case events.MessageDeleted:
			msgSet[e.Message.ID] = true
		case events.ReactionNew:
			msgSet[e.Reaction.MessageID] = true
		case events.ReactionUpdated:
			msgSet[e.Reaction.MessageID] = true
		case events.ReactionDeleted:
			msgSet[e.Reaction.MessageID] = true
		case events.UserBanned:
			userSet[e.UserID] = true
		case events.UserUnbanned:
			userSet[e.UserID] = true
		case events.MarkAllRead:
			allChannels = true
		}
	}

	state := &batchState{
		baseChannels: map[string]models.Channel{},
		baseMessages: map[string]models.Message{},
		baseUsers:    map[string]models.User{},
		users:        map[string]models.User{},
		channels:     map[string]models.Channel{},
		messages:     map[string]models.Message{},
	}

	if allChannels {
		channels, err := r.store.SelectAllChannels()
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			state.baseChannels[ch.CID] = ch
			delete(cidSet, ch.CID)
		}
	}
	if len(cidSet) > 0 {
		channels, err := r.store.SelectChannels(keys(cidSet))
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			state.baseChannels[ch.CID] = ch
		}
	}
	if len(msgSet) > 0 {
		messages, err := r.store.SelectMessages(keys(msgSet))
		if err != nil {
			return nil, err
		}
		for _, m := range messages {
			state.baseMessages[m.ID] = m
		}
	}
	if len(userSet) > 0 {
		users, err := r.store.SelectUsers(keys(userSet))
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			state.baseUsers[u.ID] = u
		}
	}
	return state, nil
}

func (r *Reconciler) apply(state *batchState, ev events.Event, result *Result) {
	if uc, ok := ev.(events.HasUnreadCounts); ok {
		result.TotalUnread, result.UnreadChannels = uc.UnreadCounts()
		result.HasUnreadCounts = true
	}

	switch e := ev.(type) {
	case events.MessageNew:
		r.mergeMessage(state, e.Message)
		if e.User != nil {
			state.users[e.User.ID] = e.User.Clone()
		}
		r.touchLastMessageAt(state, e.CID, e.Message.CreatedAt)

	case events.NotificationMessageNew:
		if e.Channel != nil {
			r.mergeChannel(state, *e.Channel)
		}
		r.mergeMessage(state, e.Message)
		r.touchLastMessageAt(state, e.CID, e.Message.CreatedAt)

	case events.MessageUpdated:
		r.mergeMessage(state, e.Message)
		if e.User != nil {
			state.users[e.User.ID] = e.User.Clone()
		}

	case events.MessageDeleted:
		msg, ok := state.getMessage(e.Message.ID)
		if !ok {
			msg = e.Message.Clone()
		}
		at := e.EventCreatedAt()
		msg.DeletedAt = &at
		msg.SyncStatus = models.SyncCompleted
		state.messages[msg.ID] = msg

	case events.MessageRead:
		r.markRead(state, e.CID, e.UserID, e.EventCreatedAt())

	case events.NotificationMarkRead:
		r.markRead(state, e.CID, e.UserID, e.EventCreatedAt())

	case events.MarkAllRead:
		cids := map[string]bool{}
		for cid := range state.baseChannels {
			cids[cid] = true
		}
		for cid := range state.channels {
			cids[cid] = true
		}
		for cid := range cids {
			r.markRead(state, cid, e.UserID, e.EventCreatedAt())
		}

	case events.ReactionNew:
		r.patchReaction(state, e.Reaction, e.Message, func(m models.Message) models.Message {
			return m.AddReaction(e.Reaction, e.Reaction.UserID == r.currentUserID, false)
		})

	case events.ReactionUpdated:
		r.patchReaction(state, e.Reaction, e.Message, func(m models.Message) models.Message {
			return m.AddReaction(e.Reaction, e.Reaction.UserID == r.currentUserID, true)
		})

	case events.ReactionDeleted:
		r.patchReaction(state, e.Reaction, e.Message, func(m models.Message) models.Message {
			return m.RemoveReaction(e.Reaction)
		})

	case events.MemberAdded:
		r.patchMember(state, e.CID, e.Member)
		if e.User != nil {
			state.users[e.User.ID] = e.User.Clone()
		}

	case events.MemberUpdated:
		r.patchMember(state, e.CID, e.Member)
		if e.User != nil {
			state.users[e.User.ID] = e.User.Clone()
		}

	case events.MemberRemoved:
		if ch, ok := state.getChannel(e.CID); ok {
			delete(ch.Members, e.UserID)
			state.channels[ch.CID] = ch
		}

	case events.ChannelUpdated:
		r.mergeChannel(state, e.Channel)

	case events.NotificationAddedToChannel:
		r.mergeChannel(state, e.Channel)

	case events.ChannelHidden:
		ch, ok := state.getChannel(e.CID)
		if !ok {
			ch = channelFromCID(e.CID)
		}
		ch.Hidden = true
		if e.ClearHistory && e.HideMessagesBefore != nil {
			t := *e.HideMessagesBefore
			ch.HideMessagesBefore = &t
			state.truncations = append(state.truncations, truncation{cid: e.CID, cutoff: t})
		}
		state.channels[ch.CID] = ch

	case events.ChannelVisible:
		if ch, ok := state.getChannel(e.CID); ok {
			ch.Hidden = false
			state.channels[ch.CID] = ch
		}

	case events.ChannelDeleted:
		r.deleteChannel(state, e.CID, e.DeletedAt)

	case events.NotificationChannelDeleted:
		r.deleteChannel(state, e.CID, e.DeletedAt)

	case events.ChannelTruncated:
		state.truncations = append(state.truncations, truncation{cid: e.CID, cutoff: e.TruncatedAt})

	case events.NotificationChannelTruncated:
		state.truncations = append(state.truncations, truncation{cid: e.CID, cutoff: e.TruncatedAt})

	case events.UserBanned:
		u, ok := state.getUser(e.UserID)
		if !ok {
			u = models.User{ID: e.UserID}
		}
		u.Banned = true
		state.users[u.ID] = u

	case events.UserUnbanned:
		u, ok := state.getUser(e.UserID)
		if !ok {
			u = models.User{ID: e.UserID}
		}
		u.Banned = false
		state.users[u.ID] = u

	case events.UserUpdated:
		state.users[e.User.ID] = e.User.Clone()

	case events.UserPresenceChanged:
		state.users[e.User.ID] = e.User.Clone()

	case events.TypingStart, events.TypingStop:
		// Live-state only; controllers project these.

	case events.Connected:
		state.users[e.Me.ID] = e.Me.Clone()
		result.ConnectionChanged = true
		result.Online = true

	case events.Disconnected:
		result.ConnectionChanged = true
		result.Online = false

	case events.ConnectionRecovered:
		result.ConnectionChanged = true
		result.Online = true
		result.Recovered = true
	}
}

// mergeMessage upserts a server-side message snapshot, refusing to
// clobber a locally fresher optimistic mutation with a stale echo.
func (r *Reconciler) mergeMessage(state *batchState, msg models.Message) {
	incoming := msg.Clone()
	if incoming.SyncStatus == "" {
		incoming.SyncStatus = models.SyncCompleted
	}
	if existing, ok := state.getMessage(incoming.ID); ok {
		if !existing.SyncStatus.Terminal() && existing.UpdatedAt.After(incoming.UpdatedAt) {
			return
		}
	}
	state.messages[incoming.ID] = incoming
}

// mergeChannel lays a server snapshot over the persisted base, keeping
// locally accumulated member and read maps when the snapshot has none.
func (r *Reconciler) mergeChannel(state *batchState, ch models.Channel) {
	incoming := ch.Clone()
	if base, ok := state.getChannel(incoming.CID); ok {
		if incoming.Members == nil {
			incoming.Members = base.Members
		}
		if incoming.Reads == nil {
			incoming.Reads = base.Reads
		}
		if incoming.Config == (models.ChannelConfig{}) {
			incoming.Config = base.Config
		}
	}
	if incoming.SyncStatus == "" {
		incoming.SyncStatus = models.SyncCompleted
	}
	state.channels[incoming.CID] = incoming
}

func (r *Reconciler) touchLastMessageAt(state *batchState, cid string, at time.Time) {
	ch, ok := state.getChannel(cid)
	if !ok {
		return
	}
	if at.After(ch.LastMessageAt) {
		ch.LastMessageAt = at
		state.channels[ch.CID] = ch
	}
}

func (r *Reconciler) markRead(state *batchState, cid, userID string, at time.Time) {
	ch, ok := state.getChannel(cid)
	if !ok {
		ch = channelFromCID(cid)
	}
	if ch.Reads == nil {
		ch.Reads = map[string]time.Time{}
	}
	if at.After(ch.Reads[userID]) {
		ch.Reads[userID] = at
	}
	state.channels[ch.CID] = ch
}

// patchReaction applies fn to the message owning the reaction. When the
// message is unknown locally the event's own snapshot is sufficient
// base state; without either the event is dropped.
func (r *Reconciler) patchReaction(state *batchState, reaction models.Reaction, snapshot *models.Message, fn func(models.Message) models.Message) {
	msg, ok := state.getMessage(reaction.MessageID)
	if !ok {
		if snapshot == nil {
			r.log.Debug("dropping reaction event for unknown message", "message_id", reaction.MessageID)
			return
		}
		msg = snapshot.Clone()
		if msg.SyncStatus == "" {
			msg.SyncStatus = models.SyncCompleted
		}
	}
	state.messages[reaction.MessageID] = fn(msg)
}

func (r *Reconciler) patchMember(state *batchState, cid string, member models.Member) {
	ch, ok := state.getChannel(cid)
	if !ok {
		ch = channelFromCID(cid)
	}
	if ch.Members == nil {
		ch.Members = map[string]models.Member{}
	}
	ch.Members[member.UserID] = member
	state.channels[ch.CID] = ch
}

func (r *Reconciler) deleteChannel(state *batchState, cid string, at time.Time) {
	ch, ok := state.getChannel(cid)
	if !ok {
		ch = channelFromCID(cid)
	}
	ch.DeletedAt = &at
	state.channels[ch.CID] = ch
	state.truncations = append(state.truncations, truncation{cid: cid, cutoff: at})
}

func channelFromCID(cid string) models.Channel {
	channelType, id, err := models.ParseCID(cid)
	if err != nil {
		return models.Channel{CID: cid}
	}
	return models.Channel{CID: cid, Type: channelType, ID: id, SyncStatus: models.SyncCompleted}
}

func mapValues[K comparable, V any](m map[K]V) []V {
	if len(m) == 0 {
		return nil
	}
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
