// Package domain is the engine core: the Coordinator owns the event
// loop, connection lifecycle and controller registries; channel and
// query controllers own per-scope live state. Everything observable is
// either persisted through storage or exposed via snapshot accessors.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"golang.org/x/sync/errgroup"

	"chatsync/internal/config"
	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
	"chatsync/internal/retry"
	"chatsync/internal/storage"
	"chatsync/internal/transport"
)

const (
	// defaultMessageLimit sizes channel pages when the caller gives none.
	defaultMessageLimit = 25
	// maxEventBatch caps how many queued events are drained into one
	// reconcile pass.
	maxEventBatch = 100
)

// Coordinator is the root of the sync engine for one logged-in user.
// It consumes the transport's push stream one batch at a time,
// reconciles each batch into persistence, projects it onto live
// controllers and drives connection recovery.
type Coordinator struct {
	cfg    config.Config
	store  storage.Store
	client transport.Client
	policy retry.Policy
	log    *slog.Logger
	rec    *reconcile.Reconciler

	channels *geche.Locker[string, *ChannelController]
	queries  *geche.Locker[string, *QueryController]
	configs  geche.Geche[string, models.ChannelConfig]

	stateMu        sync.RWMutex
	user           models.User
	online         bool
	initialized    bool
	banned         bool
	mutedUsers     []string
	totalUnread    int
	unreadChannels int
	syncState      models.SyncState

	errs chan error

	batchMu     sync.Mutex
	runMu       sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	group       *errgroup.Group
	startupDone chan struct{}
}

// New wires a coordinator for the given user. The store and client are
// owned by the caller; Stop does not close them.
func New(cfg config.Config, store storage.Store, client transport.Client, user models.User, log *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id", models.ErrEmptyField)
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		cfg:    cfg,
		store:  store,
		client: client,
		policy: retry.DefaultPolicy{
			InitialInterval: cfg.RetryInitialDelay,
			MaxInterval:     cfg.RetryMaxDelay,
			Multiplier:      2,
		},
		log:      log,
		rec:      reconcile.New(store, user.ID, log),
		channels: geche.NewLocker[string, *ChannelController](geche.NewMapCache[string, *ChannelController]()),
		queries:  geche.NewLocker[string, *QueryController](geche.NewMapCache[string, *QueryController]()),
		configs:  geche.NewMapCache[string, models.ChannelConfig](),
		user:     user,
		errs:     make(chan error, 32),
		syncState: models.SyncState{
			UserID: user.ID,
		},
		startupDone: make(chan struct{}),
	}
	return c, nil
}

// Start loads persisted state and launches the event and clean loops.
// It is not safe to call twice without an intervening Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return errors.New("coordinator already started")
	}

	if err := c.loadPersistedState(); err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	c.ctx = groupCtx
	c.cancel = cancel
	c.group = group

	group.Go(func() error {
		c.eventLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		c.cleanLoop(groupCtx)
		return nil
	})
	close(c.startupDone)
	c.log.Info("coordinator started", "user_id", c.user.ID,
		"active_channels", len(c.syncState.ActiveCIDs),
		"active_queries", len(c.syncState.ActiveQueryIDs))
	return nil
}

// Stop cancels every running task and waits for them to finish.
func (c *Coordinator) Stop() error {
	c.runMu.Lock()
	cancel, group := c.cancel, c.group
	c.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	c.setOnline(false)
	return err
}

// Reset wipes the local cache. Bound to user logout; Stop first.
func (c *Coordinator) Reset() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil && c.ctx.Err() == nil {
		return errors.New("coordinator still running")
	}
	return c.store.Reset()
}

// loadPersistedState restores the user snapshot, channel type configs,
// sync bookkeeping and the previously active controllers.
func (c *Coordinator) loadPersistedState() error {
	users, err := c.store.SelectUsers([]string{c.user.ID})
	if err != nil {
		return err
	}
	if len(users) > 0 {
		c.applyCurrentUser(users[0])
	} else if err := c.store.InsertUsers([]models.User{c.user}); err != nil {
		return err
	}

	configs, err := c.store.SelectChannelConfigs()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		c.configs.Set(cfg.ChannelType, cfg)
	}

	state, err := c.store.SelectSyncState(c.user.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if state != nil {
		c.stateMu.Lock()
		c.syncState = *state
		c.stateMu.Unlock()
	}

	for _, cid := range c.activeCIDs() {
		ctrl, err := c.ChannelFrom(cid)
		if err != nil {
			c.log.Warn("skipping invalid persisted channel", "cid", cid, "error", err)
			continue
		}
		if err := ctrl.loadLocalState(defaultMessageLimit); err != nil {
			return err
		}
		ctrl.setRecoveryNeeded(true)
	}
	for _, qid := range c.activeQueryIDs() {
		spec, err := c.store.SelectQuery(qid)
		if err != nil {
			return err
		}
		if spec == nil {
			continue
		}
		q := c.queryFor(*spec)
		q.mu.Lock()
		q.cids = append([]string(nil), spec.CIDs...)
		q.recoveryNeeded = true
		q.mu.Unlock()
	}
	return nil
}

// Channel returns the memoized controller for a channel type and id.
// Concurrent calls for the same channel observe a single controller.
func (c *Coordinator) Channel(channelType, channelID string) (*ChannelController, error) {
	cid, err := models.JoinCID(channelType, channelID)
	if err != nil {
		return nil, err
	}
	return c.channelFor(cid)
}

// ChannelFrom is Channel with a pre-joined "type:id" cid.
func (c *Coordinator) ChannelFrom(cid string) (*ChannelController, error) {
	return c.channelFor(cid)
}

func (c *Coordinator) channelFor(cid string) (*ChannelController, error) {
	channelType, channelID, err := models.ParseCID(cid)
	if err != nil {
		return nil, err
	}
	tx := c.channels.Lock()
	defer tx.Unlock()
	if ctrl, err := tx.Get(cid); err == nil {
		return ctrl, nil
	}
	ctrl := newChannelController(c, cid, channelType, channelID)
	tx.Set(cid, ctrl)
	return ctrl, nil
}

// lookupChannel returns an existing controller or nil, never creating.
func (c *Coordinator) lookupChannel(cid string) *ChannelController {
	tx := c.channels.Lock()
	defer tx.Unlock()
	ctrl, err := tx.Get(cid)
	if err != nil {
		return nil
	}
	return ctrl
}

// Query returns the memoized controller for a (filter, sort) pair.
func (c *Coordinator) Query(spec models.QueryChannelsSpec) *QueryController {
	return c.queryFor(spec)
}

func (c *Coordinator) queryFor(spec models.QueryChannelsSpec) *QueryController {
	id := spec.ID()
	tx := c.queries.Lock()
	defer tx.Unlock()
	if q, err := tx.Get(id); err == nil {
		return q
	}
	q := newQueryController(c, spec)
	tx.Set(id, q)
	return q
}

func (c *Coordinator) lookupQuery(id string) *QueryController {
	tx := c.queries.Lock()
	defer tx.Unlock()
	q, err := tx.Get(id)
	if err != nil {
		return nil
	}
	return q
}

// eventLoop consumes the push stream. Events already queued are
// drained into one batch so a burst reconciles in a single pass, but
// batches are strictly sequential.
func (c *Coordinator) eventLoop(ctx context.Context) {
	stream := c.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			batch := []events.Event{ev}
		drain:
			for len(batch) < maxEventBatch {
				select {
				case next, ok := <-stream:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			c.processBatch(ctx, batch)
		}
	}
}

// processBatch runs one batch through reconcile, projects it onto live
// controllers and applies connectivity side effects. batchMu keeps the
// event loop and recovery replay from reconciling concurrently: batches
// go through one at a time no matter which goroutine delivers them.
func (c *Coordinator) processBatch(ctx context.Context, batch []events.Event) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	res, err := c.rec.ProcessBatch(ctx, batch)
	if err != nil {
		c.log.Error("failed to reconcile event batch", "events", len(batch), "error", err)
		c.publishError(err)
		return
	}

	for _, cid := range c.activeCIDs() {
		if ctrl := c.lookupChannel(cid); ctrl != nil {
			ctrl.HandleEvents(batch)
		}
	}
	for _, qid := range c.activeQueryIDs() {
		if q := c.lookupQuery(qid); q != nil {
			q.HandleEvents(batch)
		}
	}

	if res.CurrentUser != nil {
		c.applyCurrentUser(*res.CurrentUser)
	}
	if res.HasUnreadCounts {
		c.stateMu.Lock()
		c.totalUnread = res.TotalUnread
		c.unreadChannels = res.UnreadChannels
		c.stateMu.Unlock()
	}

	if res.ConnectionChanged {
		if res.Online {
			// First connect relies on the recovery-needed flags set at
			// startup and by offline Watch; only a post-gap reconnect
			// forces a refresh of everything active.
			force := res.Recovered
			c.setOnline(true)
			c.spawn(func(ctx context.Context) {
				c.recover(ctx, force)
			})
		} else {
			c.setOnline(false)
			c.flagEverythingForRecovery()
		}
	}

	c.advanceLastSyncedAt(batch)
}

// advanceLastSyncedAt moves the replay watermark to the newest event
// time seen, never backwards.
func (c *Coordinator) advanceLastSyncedAt(batch []events.Event) {
	var newest time.Time
	for _, ev := range batch {
		if at := ev.EventCreatedAt(); at.After(newest) {
			newest = at
		}
	}
	c.stateMu.Lock()
	changed := newest.After(c.syncState.LastSyncedAt)
	if changed {
		c.syncState.LastSyncedAt = newest
	}
	state := c.syncState
	c.stateMu.Unlock()
	if changed {
		if err := c.store.InsertSyncState(state); err != nil {
			c.log.Error("failed to persist sync state", "error", err)
		}
	}
}

// recover brings local state back in line after (re)connection:
// refresh active queries, re-fetch stale channels in one batched call,
// replay missed events and pending local writes. force refreshes
// everything active rather than only what is flagged.
func (c *Coordinator) recover(ctx context.Context, force bool) {
	<-c.startupDone

	refreshed := map[string]bool{}
	var refreshedMu sync.Mutex

	var dirtyQueries []*QueryController
	for _, qid := range c.activeQueryIDs() {
		q := c.lookupQuery(qid)
		if q == nil || (!force && !q.needsRecovery()) {
			continue
		}
		dirtyQueries = append(dirtyQueries, q)
		if len(dirtyQueries) == c.cfg.RecoveryQueryLimit {
			break
		}
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.RecoveryQueryLimit)
	for _, q := range dirtyQueries {
		q := q
		group.Go(func() error {
			cids, err := q.refresh(groupCtx, defaultMessageLimit)
			if err != nil {
				c.log.Warn("query recovery failed", "query_id", q.ID(), "error", err)
				return nil
			}
			refreshedMu.Lock()
			for _, cid := range cids {
				refreshed[cid] = true
			}
			refreshedMu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	var dirtyCIDs []string
	for _, cid := range c.activeCIDs() {
		ctrl := c.lookupChannel(cid)
		if ctrl == nil || refreshed[cid] {
			continue
		}
		if force || ctrl.needsRecovery() {
			dirtyCIDs = append(dirtyCIDs, cid)
		}
		if len(dirtyCIDs) == c.cfg.RecoveryChannelLimit {
			break
		}
	}
	if len(dirtyCIDs) > 0 {
		resp, err := c.client.QueryChannels(ctx, transport.QueryChannelsRequest{
			Filter:       models.In("cid", dirtyCIDs...),
			Sort:         models.Sort{{Field: "cid", Direction: models.Ascending}},
			Limit:        len(dirtyCIDs),
			MessageLimit: defaultMessageLimit,
		})
		if err != nil {
			c.log.Warn("channel recovery query failed", "channels", len(dirtyCIDs), "error", err)
		} else {
			for _, state := range resp.Channels {
				if ctrl := c.lookupChannel(state.Channel.CID); ctrl != nil {
					st := state
					if err := ctrl.applyChannelState(&st); err != nil {
						c.log.Error("failed to apply recovered channel", "cid", state.Channel.CID, "error", err)
					}
				}
			}
		}
	}

	c.replayMissedEvents(ctx)
	c.replayPendingWrites(ctx)

	c.stateMu.Lock()
	c.initialized = true
	c.stateMu.Unlock()
	c.log.Info("connection recovery finished",
		"forced", force, "queries", len(dirtyQueries), "channels", len(dirtyCIDs))
}

// replayMissedEvents pulls the events missed during the connectivity
// gap and runs them through the normal batch pipeline.
func (c *Coordinator) replayMissedEvents(ctx context.Context) {
	c.stateMu.RLock()
	since := c.syncState.LastSyncedAt
	c.stateMu.RUnlock()
	cids := c.activeCIDs()
	if since.IsZero() || len(cids) == 0 {
		return
	}
	missed, err := c.client.SyncHistory(ctx, cids, since)
	if err != nil {
		c.log.Warn("event gap replay failed", "since", since, "error", err)
		return
	}
	if len(missed) > 0 {
		c.log.Debug("replaying missed events", "events", len(missed), "since", since)
		c.processBatch(ctx, missed)
	}
}

// replayPendingWrites pushes every persisted write still awaiting sync:
// channels first, then messages, then reactions, so later writes land
// on entities that exist server-side.
func (c *Coordinator) replayPendingWrites(ctx context.Context) {
	if !c.Online() {
		return
	}

	channels, err := c.store.SelectChannelsSyncNeeded()
	if err != nil {
		c.log.Error("failed to load pending channels", "error", err)
		return
	}
	for _, ch := range channels {
		c.replayChannel(ctx, ch)
	}

	messages, err := c.store.SelectMessagesSyncNeeded()
	if err != nil {
		c.log.Error("failed to load pending messages", "error", err)
		return
	}
	for _, msg := range messages {
		ctrl, err := c.ChannelFrom(msg.CID)
		if err != nil {
			c.log.Warn("pending message has invalid cid", "message_id", msg.ID, "cid", msg.CID)
			continue
		}
		switch {
		case msg.DeletedAt != nil:
			ctrl.syncMessage(ctx, msg, func(ctx context.Context, m models.Message) (*models.Message, error) {
				return c.client.DeleteMessage(ctx, m.ID)
			})
		case msg.UpdatedAt.After(msg.CreatedAt):
			ctrl.syncMessage(ctx, msg, c.client.UpdateMessage)
		default:
			ctrl.syncMessage(ctx, msg, c.client.SendMessage)
		}
	}

	reactions, err := c.store.SelectReactionsSyncNeeded()
	if err != nil {
		c.log.Error("failed to load pending reactions", "error", err)
		return
	}
	for _, r := range reactions {
		owners, err := c.store.SelectMessages([]string{r.MessageID})
		if err != nil || len(owners) == 0 {
			c.log.Warn("pending reaction has no message", "message_id", r.MessageID)
			continue
		}
		ctrl, err := c.ChannelFrom(owners[0].CID)
		if err != nil {
			continue
		}
		ctrl.syncReaction(ctx, r, func(ctx context.Context, r models.Reaction) (*models.Reaction, error) {
			return c.client.SendReaction(ctx, r, false)
		})
	}
}

func (c *Coordinator) replayChannel(ctx context.Context, ch models.Channel) {
	ch.SyncStatus = models.SyncInProgress
	if err := c.store.InsertChannels([]models.Channel{ch}); err != nil {
		c.log.Error("failed to persist channel status", "cid", ch.CID, "error", err)
		return
	}
	var state *transport.ChannelState
	err := retry.Run(ctx, c.policy, func(ctx context.Context) error {
		out, err := c.client.CreateChannel(ctx, ch)
		if err != nil {
			return err
		}
		state = out
		return nil
	})
	switch {
	case err == nil:
		if ctrl, cerr := c.ChannelFrom(ch.CID); cerr == nil {
			if aerr := ctrl.applyChannelState(state); aerr != nil {
				c.log.Error("failed to apply created channel", "cid", ch.CID, "error", aerr)
			}
		}
	case ctx.Err() != nil:
		ch.SyncStatus = models.SyncNeeded
		_ = c.store.InsertChannels([]models.Channel{ch})
	case transport.IsPermanent(err):
		c.log.Warn("channel sync failed permanently", "cid", ch.CID, "error", err)
		ch.SyncStatus = models.FailedPermanently
		_ = c.store.InsertChannels([]models.Channel{ch})
		c.publishError(err)
	default:
		ch.SyncStatus = models.SyncNeeded
		_ = c.store.InsertChannels([]models.Channel{ch})
	}
}

// CreateChannel persists the channel optimistically and schedules the
// network create.
func (c *Coordinator) CreateChannel(ctx context.Context, ch models.Channel) (*ChannelController, error) {
	if ch.Type == "" || ch.ID == "" {
		return nil, fmt.Errorf("%w: channel type and id", models.ErrEmptyField)
	}
	cid, err := models.JoinCID(ch.Type, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.CID = cid
	now := time.Now()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	ch.CreatedByID = c.currentUserID()
	if c.Online() {
		ch.SyncStatus = models.SyncInProgress
	} else {
		ch.SyncStatus = models.SyncNeeded
	}
	if err := c.store.InsertChannels([]models.Channel{ch}); err != nil {
		return nil, err
	}

	ctrl, err := c.ChannelFrom(ch.CID)
	if err != nil {
		return nil, err
	}
	ctrl.mu.Lock()
	ctrl.channel = ch.Clone()
	ctrl.loaded = true
	ctrl.mu.Unlock()

	if c.Online() {
		c.spawn(func(ctx context.Context) {
			c.replayChannel(ctx, ch)
		})
	}
	return ctrl, nil
}

// cleanLoop ticks the typing expiry over every active channel.
func (c *Coordinator) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, cid := range c.activeCIDs() {
				if ctrl := c.lookupChannel(cid); ctrl != nil {
					ctrl.Clean(now)
				}
			}
		}
	}
}

func (c *Coordinator) flagEverythingForRecovery() {
	for _, cid := range c.activeCIDs() {
		if ctrl := c.lookupChannel(cid); ctrl != nil {
			ctrl.setRecoveryNeeded(true)
		}
	}
	for _, qid := range c.activeQueryIDs() {
		if q := c.lookupQuery(qid); q != nil {
			q.setRecoveryNeeded(true)
		}
	}
}

// channelConfig resolves a channel type's capability config through
// the cache, falling back to persistence.
func (c *Coordinator) channelConfig(channelType string) (models.ChannelConfig, error) {
	if cfg, err := c.configs.Get(channelType); err == nil {
		return cfg, nil
	}
	configs, err := c.store.SelectChannelConfigs()
	if err != nil {
		return models.ChannelConfig{}, err
	}
	for _, cfg := range configs {
		c.configs.Set(cfg.ChannelType, cfg)
	}
	cfg, err := c.configs.Get(channelType)
	if err != nil {
		return models.ChannelConfig{}, fmt.Errorf("%w: config for channel type %q", models.ErrNotFound, channelType)
	}
	return cfg, nil
}

// applyCurrentUser refreshes the ban flag and mute list from a server
// snapshot and persists it.
func (c *Coordinator) applyCurrentUser(u models.User) {
	c.stateMu.Lock()
	c.user = u.Clone()
	c.banned = u.Banned
	c.mutedUsers = append([]string(nil), u.Mutes...)
	c.stateMu.Unlock()
	if err := c.store.InsertUsers([]models.User{u}); err != nil {
		c.log.Error("failed to persist current user", "user_id", u.ID, "error", err)
	}
}

func (c *Coordinator) addActiveChannel(cid string) {
	c.stateMu.Lock()
	if containsString(c.syncState.ActiveCIDs, cid) {
		c.stateMu.Unlock()
		return
	}
	c.syncState.ActiveCIDs = append(c.syncState.ActiveCIDs, cid)
	state := c.syncState
	c.stateMu.Unlock()
	if err := c.store.InsertSyncState(state); err != nil {
		c.log.Error("failed to persist sync state", "error", err)
	}
}

func (c *Coordinator) addActiveQuery(id string) {
	c.stateMu.Lock()
	if containsString(c.syncState.ActiveQueryIDs, id) {
		c.stateMu.Unlock()
		return
	}
	c.syncState.ActiveQueryIDs = append(c.syncState.ActiveQueryIDs, id)
	state := c.syncState
	c.stateMu.Unlock()
	if err := c.store.InsertSyncState(state); err != nil {
		c.log.Error("failed to persist sync state", "error", err)
	}
}

func (c *Coordinator) activeCIDs() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]string(nil), c.syncState.ActiveCIDs...)
}

func (c *Coordinator) activeQueryIDs() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]string(nil), c.syncState.ActiveQueryIDs...)
}

func (c *Coordinator) currentUserID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.user.ID
}

// CurrentUser returns the latest server snapshot of the logged-in user.
func (c *Coordinator) CurrentUser() models.User {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.user.Clone()
}

func (c *Coordinator) Online() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.online
}

// Initialized reports whether at least one full connection recovery
// has completed since Start.
func (c *Coordinator) Initialized() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.initialized
}

func (c *Coordinator) Banned() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.banned
}

func (c *Coordinator) MutedUsers() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]string(nil), c.mutedUsers...)
}

// UnreadCounts returns the server's total unread messages and the
// number of channels with unread messages.
func (c *Coordinator) UnreadCounts() (total, channels int) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.totalUnread, c.unreadChannels
}

// Errors exposes sync failures that have no caller to return to
// (background retries that exhausted into permanent failure).
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

func (c *Coordinator) setOnline(v bool) {
	c.stateMu.Lock()
	c.online = v
	c.stateMu.Unlock()
}

// spawn runs a background task on the coordinator's scope so Stop can
// cancel and join it.
func (c *Coordinator) spawn(fn func(context.Context)) {
	c.runMu.Lock()
	group, ctx := c.group, c.ctx
	c.runMu.Unlock()
	if group == nil {
		go fn(context.Background())
		return
	}
	group.Go(func() error {
		fn(ctx)
		return nil
	})
}

func (c *Coordinator) publishError(err error) {
	select {
	case c.errs <- err:
	default:
		c.log.Warn("dropping sync error, consumer not keeping up", "error", err)
	}
}
