package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/storage"
	"chatsync/internal/transport"
)

// AttachmentTransform lets the caller rewrite attachments (e.g. upload
// local files) before a message goes over the wire.
type AttachmentTransform func(ctx context.Context, atts []models.Attachment) ([]models.Attachment, error)

// ChannelController owns one channel's live state: ordered messages,
// member map, typing set and read state. All mutation entry points are
// optimistic: they write through to persistence first and sync to the
// network asynchronously under the retry policy.
type ChannelController struct {
	cid         string
	channelType string
	channelID   string
	d           *Coordinator

	mu             sync.RWMutex
	channel        models.Channel
	messages       []models.Message // ascending by CreatedAt
	typing         map[string]time.Time
	lastKeystroke  time.Time
	recoveryNeeded bool
	loaded         bool
}

func newChannelController(d *Coordinator, cid, channelType, channelID string) *ChannelController {
	return &ChannelController{
		cid:         cid,
		channelType: channelType,
		channelID:   channelID,
		d:           d,
		channel:     models.Channel{CID: cid, Type: channelType, ID: channelID},
		typing:      map[string]time.Time{},
	}
}

func (c *ChannelController) CID() string { return c.cid }

// loadLocalState populates live state from persistence once.
func (c *ChannelController) loadLocalState(messageLimit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	channels, err := c.d.store.SelectChannels([]string{c.cid})
	if err != nil {
		return err
	}
	if len(channels) > 0 {
		c.channel = channels[0]
	}
	msgs, err := c.d.store.SelectMessagesForChannel(c.cid, storage.MessageFilter{Limit: messageLimit})
	if err != nil {
		return err
	}
	c.messages = msgs
	c.loaded = true
	return nil
}

// Watch registers the channel as active and synchronizes its state: the
// persisted copy is visible immediately, the online query result
// replaces it when available. A transient query failure leaves the
// persisted state visible and flags the channel for recovery.
func (c *ChannelController) Watch(ctx context.Context, messageLimit int) error {
	if err := c.loadLocalState(messageLimit); err != nil {
		return err
	}
	c.d.addActiveChannel(c.cid)

	if !c.d.Online() {
		c.setRecoveryNeeded(true)
		return nil
	}

	state, err := c.d.client.QueryChannel(ctx, c.cid, transport.QueryChannelRequest{
		Watch:    true,
		Messages: transport.Pagination{Limit: messageLimit},
	})
	if err != nil {
		if transport.IsPermanent(err) {
			return err
		}
		c.d.log.Warn("channel watch failed, keeping persisted state", "cid", c.cid, "error", err)
		c.setRecoveryNeeded(true)
		return nil
	}
	return c.applyChannelState(state)
}

// applyChannelState persists a server channel snapshot and makes it the
// live state.
func (c *ChannelController) applyChannelState(state *transport.ChannelState) error {
	ch := state.Channel.Clone()
	if ch.Reads == nil {
		ch.Reads = state.Reads
	}
	if ch.Members == nil && len(state.Members) > 0 {
		ch.Members = make(map[string]models.Member, len(state.Members))
		for _, m := range state.Members {
			ch.Members[m.UserID] = m
		}
	}
	ch.SyncStatus = models.SyncCompleted

	msgs := make([]models.Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		mm := m.Clone()
		if mm.SyncStatus == "" {
			mm.SyncStatus = models.SyncCompleted
		}
		msgs = append(msgs, mm)
	}

	if err := c.d.store.InsertBatch(storage.Batch{Channels: []models.Channel{ch}, Messages: msgs}); err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = ch
	for _, m := range msgs {
		c.upsertMessageLocked(m)
	}
	c.recoveryNeeded = false
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// SendMessage persists the message optimistically and schedules the
// network sync. A missing id is generated as "{userID}-{uuid}" and
// never changes afterwards.
func (c *ChannelController) SendMessage(ctx context.Context, msg models.Message, transform AttachmentTransform) (models.Message, error) {
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return models.Message{}, fmt.Errorf("%w: message text", models.ErrEmptyField)
	}
	if transform != nil {
		atts, err := transform(ctx, msg.Attachments)
		if err != nil {
			return models.Message{}, fmt.Errorf("attachment transform: %w", err)
		}
		msg.Attachments = atts
	}

	now := time.Now()
	if msg.ID == "" {
		msg.ID = c.d.currentUserID() + "-" + uuid.NewString()
	}
	msg.CID = c.cid
	msg.UserID = c.d.currentUserID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if c.d.Online() {
		msg.SyncStatus = models.SyncInProgress
	} else {
		msg.SyncStatus = models.SyncNeeded
	}

	if err := c.d.store.InsertMessages([]models.Message{msg}); err != nil {
		return models.Message{}, err
	}
	c.mu.Lock()
	c.upsertMessageLocked(msg)
	c.mu.Unlock()

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			c.syncMessage(ctx, msg, c.d.client.SendMessage)
		})
	}
	return msg, nil
}

// EditMessage mutates the message text/attachments in place, keeping
// its identity, and schedules the sync.
func (c *ChannelController) EditMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		return models.Message{}, fmt.Errorf("%w: message id", models.ErrEmptyField)
	}
	msg.CID = c.cid
	msg.UpdatedAt = time.Now()
	if c.d.Online() {
		msg.SyncStatus = models.SyncInProgress
	} else {
		msg.SyncStatus = models.SyncNeeded
	}

	if err := c.d.store.InsertMessages([]models.Message{msg}); err != nil {
		return models.Message{}, err
	}
	c.mu.Lock()
	c.upsertMessageLocked(msg)
	c.mu.Unlock()

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			c.syncMessage(ctx, msg, c.d.client.UpdateMessage)
		})
	}
	return msg, nil
}

// DeleteMessage soft-deletes locally and schedules the sync.
func (c *ChannelController) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("%w: message id", models.ErrEmptyField)
	}
	msgs, err := c.d.store.SelectMessages([]string{messageID})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return models.ErrNotFound
	}
	msg := msgs[0]
	now := time.Now()
	msg.DeletedAt = &now
	msg.UpdatedAt = now
	if c.d.Online() {
		msg.SyncStatus = models.SyncInProgress
	} else {
		msg.SyncStatus = models.SyncNeeded
	}
	if err := c.d.store.InsertMessages([]models.Message{msg}); err != nil {
		return err
	}
	c.mu.Lock()
	c.upsertMessageLocked(msg)
	c.mu.Unlock()

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			c.syncMessage(ctx, msg, func(ctx context.Context, m models.Message) (*models.Message, error) {
				return c.d.client.DeleteMessage(ctx, m.ID)
			})
		})
	}
	return nil
}

// syncMessage runs one message mutation through the retry loop and
// records the terminal status.
func (c *ChannelController) syncMessage(ctx context.Context, msg models.Message, call func(context.Context, models.Message) (*models.Message, error)) {
	var confirmed *models.Message
	err := retry.Run(ctx, c.d.policy, func(ctx context.Context) error {
		out, err := call(ctx, msg)
		if err != nil {
			return err
		}
		confirmed = out
		return nil
	})

	switch {
	case err == nil:
		final := msg
		if confirmed != nil {
			final = *confirmed
			final.ID = msg.ID // identity is immutable once assigned
			final.CID = c.cid
		}
		final.SyncStatus = models.SyncCompleted
		c.persistAndProject(final)
	case ctx.Err() != nil:
		// Cancelled mid-sync: leave the write pending for replay.
		msg.SyncStatus = models.SyncNeeded
		c.persistAndProject(msg)
	case transport.IsPermanent(err):
		c.d.log.Warn("message sync failed permanently", "cid", c.cid, "message_id", msg.ID, "error", err)
		msg.SyncStatus = models.FailedPermanently
		c.persistAndProject(msg)
		c.d.publishError(err)
	default:
		msg.SyncStatus = models.SyncNeeded
		c.persistAndProject(msg)
	}
}

func (c *ChannelController) persistAndProject(msg models.Message) {
	if err := c.d.store.InsertMessages([]models.Message{msg}); err != nil {
		c.d.log.Error("failed to persist message status", "message_id", msg.ID, "error", err)
		return
	}
	c.mu.Lock()
	c.upsertMessageLocked(msg)
	c.mu.Unlock()
}

// SendReaction patches the message aggregate optimistically. With
// enforceUnique the user's previous reactions are dropped first, the
// same way the server will; the echo remains the source of truth.
func (c *ChannelController) SendReaction(ctx context.Context, messageID, reactionType string, enforceUnique bool) (models.Reaction, error) {
	if messageID == "" || reactionType == "" {
		return models.Reaction{}, fmt.Errorf("%w: reaction identity", models.ErrEmptyField)
	}
	if cfg, err := c.d.channelConfig(c.channelType); err == nil && !cfg.ReactionsEnabled {
		return models.Reaction{}, fmt.Errorf("reactions disabled for channel type %q", c.channelType)
	}

	reaction := models.Reaction{
		MessageID: messageID,
		UserID:    c.d.currentUserID(),
		Type:      reactionType,
		Score:     1,
		CreatedAt: time.Now(),
	}
	if c.d.Online() {
		reaction.SyncStatus = models.SyncInProgress
	} else {
		reaction.SyncStatus = models.SyncNeeded
	}

	msgs, err := c.d.store.SelectMessages([]string{messageID})
	if err != nil {
		return models.Reaction{}, err
	}
	if len(msgs) == 0 {
		return models.Reaction{}, models.ErrNotFound
	}
	patched := msgs[0].AddReaction(reaction, true, enforceUnique)

	if err := c.d.store.InsertMessages([]models.Message{patched}); err != nil {
		return models.Reaction{}, err
	}
	if err := c.d.store.InsertReactions([]models.Reaction{reaction}); err != nil {
		return models.Reaction{}, err
	}
	c.mu.Lock()
	c.upsertMessageLocked(patched)
	c.mu.Unlock()

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			c.syncReaction(ctx, reaction, func(ctx context.Context, r models.Reaction) (*models.Reaction, error) {
				return c.d.client.SendReaction(ctx, r, enforceUnique)
			})
		})
	}
	return reaction, nil
}

// DeleteReaction removes the user's reaction from the aggregate and
// schedules the sync.
func (c *ChannelController) DeleteReaction(ctx context.Context, messageID, reactionType string) error {
	if messageID == "" || reactionType == "" {
		return fmt.Errorf("%w: reaction identity", models.ErrEmptyField)
	}
	msgs, err := c.d.store.SelectMessages([]string{messageID})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return models.ErrNotFound
	}
	reaction := models.Reaction{
		MessageID: messageID,
		UserID:    c.d.currentUserID(),
		Type:      reactionType,
		Score:     1,
	}
	// The removal must undo the score the aggregate actually carries,
	// which server-side reactions may have set above 1.
	for _, or := range msgs[0].OwnReactions {
		if or.UserID == reaction.UserID && or.Type == reaction.Type {
			reaction.Score = or.Score
			break
		}
	}
	patched := msgs[0].RemoveReaction(reaction)

	if err := c.d.store.InsertMessages([]models.Message{patched}); err != nil {
		return err
	}
	if err := c.d.store.DeleteReaction(reaction); err != nil {
		return err
	}
	c.mu.Lock()
	c.upsertMessageLocked(patched)
	c.mu.Unlock()

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			c.syncReaction(ctx, reaction, c.d.client.DeleteReaction)
		})
	}
	return nil
}

func (c *ChannelController) syncReaction(ctx context.Context, reaction models.Reaction, call func(context.Context, models.Reaction) (*models.Reaction, error)) {
	err := retry.Run(ctx, c.d.policy, func(ctx context.Context) error {
		_, err := call(ctx, reaction)
		return err
	})
	switch {
	case err == nil:
		reaction.SyncStatus = models.SyncCompleted
		if err := c.d.store.InsertReactions([]models.Reaction{reaction}); err != nil {
			c.d.log.Error("failed to persist reaction status", "message_id", reaction.MessageID, "error", err)
		}
	case ctx.Err() != nil:
		reaction.SyncStatus = models.SyncNeeded
		_ = c.d.store.InsertReactions([]models.Reaction{reaction})
	case transport.IsPermanent(err):
		c.d.log.Warn("reaction sync failed permanently", "message_id", reaction.MessageID, "error", err)
		reaction.SyncStatus = models.FailedPermanently
		_ = c.d.store.InsertReactions([]models.Reaction{reaction})
		c.d.publishError(err)
	default:
		reaction.SyncStatus = models.SyncNeeded
		_ = c.d.store.InsertReactions([]models.Reaction{reaction})
	}
}

// MarkRead advances the current user's read marker. It is a no-op when
// the marker is already at or past the newest message.
func (c *ChannelController) MarkRead(ctx context.Context) error {
	userID := c.d.currentUserID()

	c.mu.Lock()
	newest := time.Time{}
	if n := len(c.messages); n > 0 {
		newest = c.messages[n-1].CreatedAt
	}
	if last, ok := c.channel.Reads[userID]; newest.IsZero() || (ok && !last.Before(newest)) {
		c.mu.Unlock()
		return nil
	}
	if c.channel.Reads == nil {
		c.channel.Reads = map[string]time.Time{}
	}
	now := time.Now()
	c.channel.Reads[userID] = now
	ch := c.channel.Clone()
	c.mu.Unlock()

	if err := c.d.store.InsertChannels([]models.Channel{ch}); err != nil {
		return err
	}

	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			if err := retry.Run(ctx, c.d.policy, func(ctx context.Context) error {
				return c.d.client.MarkRead(ctx, c.cid)
			}); err != nil && ctx.Err() == nil {
				c.d.log.Warn("mark read failed", "cid", c.cid, "error", err)
			}
		})
	}
	return nil
}

// Keystroke signals typing, debounced so at most one start event goes
// out per expiry window. The indicator auto-expires via Clean.
func (c *ChannelController) Keystroke(ctx context.Context) error {
	if cfg, err := c.d.channelConfig(c.channelType); err == nil && !cfg.TypingEvents {
		return nil
	}
	now := time.Now()
	c.mu.Lock()
	send := now.Sub(c.lastKeystroke) >= c.d.cfg.TypingExpiry/2
	if send {
		c.lastKeystroke = now
	}
	c.mu.Unlock()

	if send && c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			if err := c.d.client.SendTypingEvent(ctx, c.cid, true); err != nil {
				c.d.log.Debug("typing event failed", "cid", c.cid, "error", err)
			}
		})
	}
	return nil
}

// StopTyping sends an explicit stop when a keystroke window is open.
func (c *ChannelController) StopTyping(ctx context.Context) error {
	c.mu.Lock()
	open := !c.lastKeystroke.IsZero()
	c.lastKeystroke = time.Time{}
	c.mu.Unlock()
	if !open {
		return nil
	}
	if c.d.Online() {
		c.d.spawn(func(ctx context.Context) {
			if err := c.d.client.SendTypingEvent(ctx, c.cid, false); err != nil {
				c.d.log.Debug("typing stop failed", "cid", c.cid, "error", err)
			}
		})
	}
	return nil
}

// LoadOlderMessages pages the history backwards from the oldest loaded
// message, merging without duplicating ids.
func (c *ChannelController) LoadOlderMessages(ctx context.Context, limit int) ([]models.Message, error) {
	c.mu.RLock()
	var oldest *models.Message
	if len(c.messages) > 0 {
		m := c.messages[0]
		oldest = &m
	}
	c.mu.RUnlock()

	if !c.d.Online() {
		f := storage.MessageFilter{Limit: limit}
		if oldest != nil {
			t := oldest.CreatedAt
			f.Before = &t
		}
		msgs, err := c.d.store.SelectMessagesForChannel(c.cid, f)
		if err != nil {
			return nil, err
		}
		c.mergeMessages(msgs)
		return msgs, nil
	}

	p := transport.Pagination{Limit: limit, Older: true}
	if oldest != nil {
		p.OffsetID = oldest.ID
	}
	return c.loadPage(ctx, p)
}

// LoadNewerMessages pages forward from the newest loaded message.
func (c *ChannelController) LoadNewerMessages(ctx context.Context, limit int) ([]models.Message, error) {
	c.mu.RLock()
	var newest *models.Message
	if n := len(c.messages); n > 0 {
		m := c.messages[n-1]
		newest = &m
	}
	c.mu.RUnlock()

	if !c.d.Online() {
		f := storage.MessageFilter{Limit: limit}
		if newest != nil {
			t := newest.CreatedAt
			f.After = &t
		}
		msgs, err := c.d.store.SelectMessagesForChannel(c.cid, f)
		if err != nil {
			return nil, err
		}
		c.mergeMessages(msgs)
		return msgs, nil
	}

	p := transport.Pagination{Limit: limit}
	if newest != nil {
		p.OffsetID = newest.ID
	}
	return c.loadPage(ctx, p)
}

// LoadMessageByID fetches a message with surrounding context.
func (c *ChannelController) LoadMessageByID(ctx context.Context, messageID string, olderOffset, newerOffset int) (*models.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id", models.ErrEmptyField)
	}
	if c.d.Online() {
		if _, err := c.loadPage(ctx, transport.Pagination{Limit: olderOffset, OffsetID: messageID, Older: true}); err != nil {
			return nil, err
		}
		if _, err := c.loadPage(ctx, transport.Pagination{Limit: newerOffset, OffsetID: messageID}); err != nil {
			return nil, err
		}
	}
	msgs, err := c.d.store.SelectMessages([]string{messageID})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, models.ErrNotFound
	}
	c.mergeMessages(msgs)
	return &msgs[0], nil
}

func (c *ChannelController) loadPage(ctx context.Context, p transport.Pagination) ([]models.Message, error) {
	state, err := c.d.client.QueryChannel(ctx, c.cid, transport.QueryChannelRequest{Messages: p})
	if err != nil {
		if !transport.IsPermanent(err) {
			c.setRecoveryNeeded(true)
		}
		return nil, err
	}
	msgs := make([]models.Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		mm := m.Clone()
		if mm.SyncStatus == "" {
			mm.SyncStatus = models.SyncCompleted
		}
		msgs = append(msgs, mm)
	}
	if err := c.d.store.InsertMessages(msgs); err != nil {
		return nil, err
	}
	c.mergeMessages(msgs)
	return msgs, nil
}

// HandleEvents projects a reconciled batch onto live state. The
// reconciler has already persisted everything; this only updates the
// in-memory view.
func (c *ChannelController) HandleEvents(batch []events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range batch {
		if all, ok := ev.(events.MarkAllRead); ok {
			c.applyReadLocked(all.UserID, all.EventCreatedAt())
			continue
		}
		if ce, ok := ev.(events.HasCID); !ok || ce.EventCID() != c.cid {
			continue
		}
		switch e := ev.(type) {
		case events.MessageNew:
			c.applyServerMessageLocked(e.Message)
			if e.Message.CreatedAt.After(c.channel.LastMessageAt) {
				c.channel.LastMessageAt = e.Message.CreatedAt
			}
			delete(c.typing, e.Message.UserID)
		case events.NotificationMessageNew:
			c.applyServerMessageLocked(e.Message)
		case events.MessageUpdated:
			c.applyServerMessageLocked(e.Message)
		case events.MessageDeleted:
			at := e.EventCreatedAt()
			if i, ok := c.indexOfLocked(e.Message.ID); ok {
				msg := c.messages[i]
				msg.DeletedAt = &at
				msg.SyncStatus = models.SyncCompleted
				c.messages[i] = msg
			}
		case events.MessageRead:
			c.applyReadLocked(e.UserID, e.EventCreatedAt())
		case events.NotificationMarkRead:
			c.applyReadLocked(e.UserID, e.EventCreatedAt())
		case events.ReactionNew:
			c.patchReactionLocked(e.Reaction, func(m models.Message) models.Message {
				return m.AddReaction(e.Reaction, e.Reaction.UserID == c.d.currentUserID(), false)
			})
		case events.ReactionUpdated:
			c.patchReactionLocked(e.Reaction, func(m models.Message) models.Message {
				return m.AddReaction(e.Reaction, e.Reaction.UserID == c.d.currentUserID(), true)
			})
		case events.ReactionDeleted:
			c.patchReactionLocked(e.Reaction, func(m models.Message) models.Message {
				return m.RemoveReaction(e.Reaction)
			})
		case events.MemberAdded:
			c.applyMemberLocked(e.Member)
		case events.MemberUpdated:
			c.applyMemberLocked(e.Member)
		case events.MemberRemoved:
			delete(c.channel.Members, e.UserID)
		case events.ChannelUpdated:
			c.applyChannelSnapshotLocked(e.Channel)
		case events.NotificationAddedToChannel:
			c.applyChannelSnapshotLocked(e.Channel)
		case events.ChannelHidden:
			c.channel.Hidden = true
			if e.ClearHistory && e.HideMessagesBefore != nil {
				c.dropMessagesBeforeLocked(*e.HideMessagesBefore)
			}
		case events.ChannelVisible:
			c.channel.Hidden = false
		case events.ChannelDeleted:
			at := e.DeletedAt
			c.channel.DeletedAt = &at
			c.dropMessagesBeforeLocked(at)
		case events.NotificationChannelDeleted:
			at := e.DeletedAt
			c.channel.DeletedAt = &at
			c.dropMessagesBeforeLocked(at)
		case events.ChannelTruncated:
			c.dropMessagesBeforeLocked(e.TruncatedAt)
		case events.NotificationChannelTruncated:
			c.dropMessagesBeforeLocked(e.TruncatedAt)
		case events.TypingStart:
			if e.UserID != c.d.currentUserID() {
				c.typing[e.UserID] = e.EventCreatedAt()
			}
		case events.TypingStop:
			delete(c.typing, e.UserID)
		}
	}
}

// Clean expires typing indicators older than the configured window.
func (c *ChannelController) Clean(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, at := range c.typing {
		if now.Sub(at) > c.d.cfg.TypingExpiry {
			delete(c.typing, userID)
		}
	}
	if !c.lastKeystroke.IsZero() && now.Sub(c.lastKeystroke) > c.d.cfg.TypingExpiry {
		c.lastKeystroke = time.Time{}
	}
}

func (c *ChannelController) setRecoveryNeeded(v bool) {
	c.mu.Lock()
	c.recoveryNeeded = v
	c.mu.Unlock()
}

func (c *ChannelController) needsRecovery() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recoveryNeeded
}

// applyServerMessageLocked upserts a server echo unless a locally
// fresher pending mutation exists.
func (c *ChannelController) applyServerMessageLocked(msg models.Message) {
	incoming := msg.Clone()
	if incoming.SyncStatus == "" {
		incoming.SyncStatus = models.SyncCompleted
	}
	if i, ok := c.indexOfLocked(incoming.ID); ok {
		existing := c.messages[i]
		if !existing.SyncStatus.Terminal() && existing.UpdatedAt.After(incoming.UpdatedAt) {
			return
		}
	}
	c.upsertMessageLocked(incoming)
}

func (c *ChannelController) patchReactionLocked(r models.Reaction, fn func(models.Message) models.Message) {
	if i, ok := c.indexOfLocked(r.MessageID); ok {
		c.messages[i] = fn(c.messages[i])
	}
}

func (c *ChannelController) applyMemberLocked(m models.Member) {
	if c.channel.Members == nil {
		c.channel.Members = map[string]models.Member{}
	}
	c.channel.Members[m.UserID] = m
}

func (c *ChannelController) applyReadLocked(userID string, at time.Time) {
	if c.channel.Reads == nil {
		c.channel.Reads = map[string]time.Time{}
	}
	if at.After(c.channel.Reads[userID]) {
		c.channel.Reads[userID] = at
	}
}

func (c *ChannelController) applyChannelSnapshotLocked(ch models.Channel) {
	incoming := ch.Clone()
	if incoming.Members == nil {
		incoming.Members = c.channel.Members
	}
	if incoming.Reads == nil {
		incoming.Reads = c.channel.Reads
	}
	c.channel = incoming
}

func (c *ChannelController) dropMessagesBeforeLocked(cutoff time.Time) {
	keep := c.messages[:0]
	for _, m := range c.messages {
		if !m.CreatedAt.Before(cutoff) {
			keep = append(keep, m)
		}
	}
	c.messages = keep
}

func (c *ChannelController) indexOfLocked(id string) (int, bool) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// upsertMessageLocked inserts or replaces by id, keeping the list
// ordered by creation time.
func (c *ChannelController) upsertMessageLocked(msg models.Message) {
	if i, ok := c.indexOfLocked(msg.ID); ok {
		c.messages[i] = msg
	} else {
		c.messages = append(c.messages, msg)
	}
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
	})
}

func (c *ChannelController) mergeMessages(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.applyServerMessageLocked(m)
	}
}

// Messages returns a copy of the live message list, hidden-cutoff and
// soft-deleted entries included; consumers filter by DeletedAt.
func (c *ChannelController) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ChannelController) Channel() models.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel.Clone()
}

func (c *ChannelController) Members() map[string]models.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.Member, len(c.channel.Members))
	for k, v := range c.channel.Members {
		out[k] = v
	}
	return out
}

func (c *ChannelController) Reads() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.channel.Reads))
	for k, v := range c.channel.Reads {
		out[k] = v
	}
	return out
}

// TypingUsers returns the ids of users currently typing, sorted for a
// stable UI order.
func (c *ChannelController) TypingUsers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UnreadCount counts live messages newer than the current user's read
// marker, excluding their own and deleted messages.
func (c *ChannelController) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID := c.d.currentUserID()
	lastRead := c.channel.Reads[userID]
	count := 0
	for _, m := range c.messages {
		if m.UserID == userID || m.DeletedAt != nil {
			continue
		}
		if m.CreatedAt.After(lastRead) {
			count++
		}
	}
	return count
}
