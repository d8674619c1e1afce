package domain

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/config"
	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/storage"
)

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClient, *storage.BboltStore) {
	t.Helper()
	store, err := storage.NewBboltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := newFakeClient()
	cfg := config.Default()
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	cfg.CleanInterval = 10 * time.Millisecond

	c, err := New(cfg, store, client, models.User{ID: "me", Name: "Me"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c, client, store
}

func TestCoordinator_ChannelMemoization(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	const workers = 16
	out := make([]*ChannelController, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl, err := c.Channel("messaging", "general")
			if err == nil {
				out[i] = ctrl
			}
		}()
	}
	wg.Wait()

	require.NotNil(t, out[0])
	for i := 1; i < workers; i++ {
		assert.Same(t, out[0], out[i], "concurrent lookups must observe one controller")
	}

	// The pre-joined form resolves to the same instance.
	ctrl, err := c.ChannelFrom("messaging:general")
	require.NoError(t, err)
	assert.Same(t, out[0], ctrl)

	_, err = c.ChannelFrom("not a cid")
	assert.ErrorIs(t, err, models.ErrInvalidCID)
}

func TestCoordinator_QueryMemoization(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	spec := models.QueryChannelsSpec{
		Filter: models.In("members", "me"),
		Sort:   models.Sort{{Field: "last_message_at", Direction: models.Descending}},
	}
	q1 := c.Query(spec)
	q2 := c.Query(spec)
	assert.Same(t, q1, q2)

	other := c.Query(models.QueryChannelsSpec{Filter: models.In("members", "someone")})
	assert.NotSame(t, q1, other)
}

func TestSendMessage_OfflineStaysPending(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)

	msg, err := ctrl.SendMessage(context.Background(), models.Message{Text: "hello"}, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(msg.ID, "me-"), "id must be {userID}-{uuid}, got %s", msg.ID)
	assert.Equal(t, models.SyncNeeded, msg.SyncStatus)
	assert.Equal(t, "messaging:general", msg.CID)
	assert.Equal(t, "me", msg.UserID)

	persisted, err := store.SelectMessages([]string{msg.ID})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.SyncNeeded, persisted[0].SyncStatus)
	assert.Equal(t, 0, client.sentCount(), "no network call while offline")
}

func TestSendMessage_OnlineCompletes(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	client.pushConnected("me")
	require.Eventually(t, c.Online, waitFor, tick)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	msg, err := ctrl.SendMessage(context.Background(), models.Message{Text: "hello"}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		persisted, err := store.SelectMessages([]string{msg.ID})
		return err == nil && len(persisted) == 1 && persisted[0].SyncStatus == models.SyncCompleted
	}, waitFor, tick, "message must reach completed after the network call")

	assert.Equal(t, 1, client.sentCount())
}

func TestSendMessage_OfflineThenReplayOnReconnect(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	msg, err := ctrl.SendMessage(context.Background(), models.Message{Text: "queued"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SyncNeeded, msg.SyncStatus)

	client.pushConnected("me")

	require.Eventually(t, func() bool {
		persisted, err := store.SelectMessages([]string{msg.ID})
		return err == nil && len(persisted) == 1 && persisted[0].SyncStatus == models.SyncCompleted
	}, waitFor, tick, "pending message must replay on reconnect")

	assert.Equal(t, 1, client.sentCount())
	// Identity survives the replay.
	persisted, err := store.SelectMessages([]string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, persisted[0].ID)
}

func TestSendMessage_PermanentFailure(t *testing.T) {
	c, client, store := newTestCoordinator(t)
	client.failSendMessage(newPermanentErr())

	client.pushConnected("me")
	require.Eventually(t, c.Online, waitFor, tick)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	msg, err := ctrl.SendMessage(context.Background(), models.Message{Text: "rejected"}, nil)
	require.NoError(t, err, "optimistic call itself must not fail")

	require.Eventually(t, func() bool {
		persisted, err := store.SelectMessages([]string{msg.ID})
		return err == nil && len(persisted) == 1 && persisted[0].SyncStatus == models.FailedPermanently
	}, waitFor, tick)

	select {
	case err := <-c.Errors():
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("permanent failure must surface on the error stream")
	}
}

func TestRecovery_SingleBatchedChannelFetch(t *testing.T) {
	c, client, _ := newTestCoordinator(t)

	ch1, err := c.Channel("messaging", "one")
	require.NoError(t, err)
	ch2, err := c.Channel("messaging", "two")
	require.NoError(t, err)
	require.NoError(t, ch1.Watch(context.Background(), 10))
	require.NoError(t, ch2.Watch(context.Background(), 10))

	client.pushConnected("me")
	require.Eventually(t, c.Initialized, waitFor, tick)

	reqs := client.queryChannelsCalls()
	require.Len(t, reqs, 1, "recovery must fetch all dirty channels in one batched query")

	req := reqs[0]
	assert.Equal(t, models.FilterIn, req.Filter.Op)
	assert.Equal(t, "cid", req.Filter.Field)
	cids, ok := req.Filter.Value.([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"messaging:one", "messaging:two"}, cids)

	assert.False(t, ch1.needsRecovery())
	assert.False(t, ch2.needsRecovery())
}

func TestRecovery_GapReplayAndLiveEventsBothApply(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	require.NoError(t, ctrl.Watch(context.Background(), 10))

	base := time.Now().Round(time.Millisecond)
	cid := "messaging:general"
	client.push(events.MessageNew{
		ChannelBase: events.ChannelAt(cid, base),
		Message:     models.Message{ID: "m1", CID: cid, UserID: "u1", Text: "hi", CreatedAt: base},
	})
	require.Eventually(t, func() bool {
		msgs, err := store.SelectMessages([]string{"m1"})
		return err == nil && len(msgs) == 1
	}, waitFor, tick)

	// One reaction comes back through the gap replay, another arrives
	// over the live stream while recovery is still running. Batches
	// reconcile one at a time, so neither update may shadow the other.
	client.setSyncHistory(events.ReactionNew{
		ChannelBase: events.ChannelAt(cid, base.Add(time.Second)),
		Reaction:    models.Reaction{MessageID: "m1", UserID: "u2", Type: "like", Score: 1, CreatedAt: base.Add(time.Second)},
	})
	client.pushConnected("me")
	client.push(events.ReactionNew{
		ChannelBase: events.ChannelAt(cid, base.Add(2*time.Second)),
		Reaction:    models.Reaction{MessageID: "m1", UserID: "u3", Type: "love", Score: 1, CreatedAt: base.Add(2 * time.Second)},
	})

	require.Eventually(t, func() bool {
		msgs, err := store.SelectMessages([]string{"m1"})
		if err != nil || len(msgs) != 1 {
			return false
		}
		return msgs[0].ReactionCounts["like"] == 1 && msgs[0].ReactionCounts["love"] == 1
	}, waitFor, tick, "replayed and live reactions must both survive")
	assert.GreaterOrEqual(t, client.syncHistoryCallCount(), 1)
}

func TestCoordinator_UnreadCountsFromEvents(t *testing.T) {
	c, client, _ := newTestCoordinator(t)

	now := time.Now()
	client.push(events.NotificationMessageNew{
		ChannelBase: events.ChannelAt("messaging:general", now),
		Unread:      events.WithUnread(7, 2),
		Message:     models.Message{ID: "m1", CID: "messaging:general", UserID: "u1", Text: "hi", CreatedAt: now},
	})

	require.Eventually(t, func() bool {
		total, channels := c.UnreadCounts()
		return total == 7 && channels == 2
	}, waitFor, tick)
}

func TestCoordinator_BanFlagFromCurrentUser(t *testing.T) {
	c, client, _ := newTestCoordinator(t)

	client.push(events.UserUpdated{
		Base: events.At(time.Now()),
		User: models.User{ID: "me", Banned: true, Mutes: []string{"u9"}},
	})

	require.Eventually(t, c.Banned, waitFor, tick)
	assert.Equal(t, []string{"u9"}, c.MutedUsers())
}

func TestCoordinator_DisconnectFlagsRecovery(t *testing.T) {
	c, client, _ := newTestCoordinator(t)

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	require.NoError(t, ctrl.Watch(context.Background(), 10))

	client.pushConnected("me")
	require.Eventually(t, c.Initialized, waitFor, tick)
	require.Eventually(t, func() bool { return !ctrl.needsRecovery() }, waitFor, tick)

	client.push(events.Disconnected{Base: events.At(time.Now())})
	require.Eventually(t, func() bool { return !c.Online() }, waitFor, tick)
	assert.True(t, ctrl.needsRecovery(), "disconnect must flag active channels for recovery")
}

func TestCoordinator_StatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := storage.NewBboltStore(dbPath)
	require.NoError(t, err)

	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := newFakeClient()
	c, err := New(cfg, store, client, models.User{ID: "me"}, logger)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	ctrl, err := c.Channel("messaging", "general")
	require.NoError(t, err)
	require.NoError(t, ctrl.Watch(context.Background(), 10))
	msg, err := ctrl.SendMessage(context.Background(), models.Message{Text: "offline note"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Stop())
	require.NoError(t, store.Close())

	// A fresh engine over the same file sees the pending write and the
	// active channel set.
	store2, err := storage.NewBboltStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })

	c2, err := New(cfg, store2, newFakeClient(), models.User{ID: "me"}, logger)
	require.NoError(t, err)
	require.NoError(t, c2.Start(context.Background()))
	t.Cleanup(func() { _ = c2.Stop() })

	ctrl2 := c2.lookupChannel("messaging:general")
	require.NotNil(t, ctrl2, "active channel must be rebuilt on start")

	found := false
	for _, m := range ctrl2.Messages() {
		if m.ID == msg.ID && m.SyncStatus == models.SyncNeeded {
			found = true
		}
	}
	assert.True(t, found, "pending message must survive a restart")
}
