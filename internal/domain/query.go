package domain

import (
	"context"
	"sort"
	"sync"

	"chatsync/internal/events"
	"chatsync/internal/models"
	"chatsync/internal/storage"
	"chatsync/internal/transport"
)

// QueryController owns one channel-list query: an ordered set of cids
// for a (filter, sort) pair. Results are persisted-first: the cached
// page is visible immediately and the server page replaces it when the
// network round trip completes.
type QueryController struct {
	id   string
	spec models.QueryChannelsSpec
	d    *Coordinator

	mu             sync.RWMutex
	cids           []string
	loading        bool
	loadingMore    bool
	recoveryNeeded bool
}

func newQueryController(d *Coordinator, spec models.QueryChannelsSpec) *QueryController {
	return &QueryController{id: spec.ID(), spec: spec, d: d}
}

func (q *QueryController) ID() string                    { return q.id }
func (q *QueryController) Spec() models.QueryChannelsSpec { return q.spec }

// Query loads the first page. The persisted cid list is published
// before the network call; the server page then becomes authoritative
// for its span. A transient failure keeps the cached page visible and
// flags the query for recovery.
func (q *QueryController) Query(ctx context.Context, limit, messageLimit int) ([]models.Channel, error) {
	q.setLoading(true)
	defer q.setLoading(false)
	q.d.addActiveQuery(q.id)

	if cached, err := q.d.store.SelectQuery(q.id); err == nil && cached != nil {
		q.mu.Lock()
		q.cids = append([]string(nil), cached.CIDs...)
		q.mu.Unlock()
	}

	if !q.d.Online() {
		q.setRecoveryNeeded(true)
		return q.Channels()
	}

	resp, err := q.d.client.QueryChannels(ctx, transport.QueryChannelsRequest{
		Filter:       q.spec.Filter,
		Sort:         q.spec.Sort,
		Limit:        limit,
		MessageLimit: messageLimit,
	})
	if err != nil {
		if transport.IsPermanent(err) {
			return nil, err
		}
		q.d.log.Warn("channel query failed, serving cached page", "query_id", q.id, "error", err)
		q.setRecoveryNeeded(true)
		return q.Channels()
	}

	cids, err := q.absorb(resp.Channels)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.cids = cids
	q.recoveryNeeded = false
	q.mu.Unlock()
	if err := q.persistSpec(); err != nil {
		return nil, err
	}
	return q.Channels()
}

// LoadMore appends the next server page, preserving earlier pages.
func (q *QueryController) LoadMore(ctx context.Context, limit, messageLimit int) ([]models.Channel, error) {
	q.mu.Lock()
	if q.loadingMore {
		q.mu.Unlock()
		return q.Channels()
	}
	q.loadingMore = true
	offset := len(q.cids)
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.loadingMore = false
		q.mu.Unlock()
	}()

	if !q.d.Online() {
		q.setRecoveryNeeded(true)
		return q.Channels()
	}

	resp, err := q.d.client.QueryChannels(ctx, transport.QueryChannelsRequest{
		Filter:       q.spec.Filter,
		Sort:         q.spec.Sort,
		Limit:        limit,
		Offset:       offset,
		MessageLimit: messageLimit,
	})
	if err != nil {
		if transport.IsPermanent(err) {
			return nil, err
		}
		q.setRecoveryNeeded(true)
		return q.Channels()
	}

	cids, err := q.absorb(resp.Channels)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	for _, cid := range cids {
		if !containsString(q.cids, cid) {
			q.cids = append(q.cids, cid)
		}
	}
	q.mu.Unlock()
	if err := q.persistSpec(); err != nil {
		return nil, err
	}
	return q.Channels()
}

// refresh re-runs the first page during connection recovery, sized to
// the current result set so an expanded list is not silently shrunk.
func (q *QueryController) refresh(ctx context.Context, messageLimit int) ([]string, error) {
	q.mu.RLock()
	limit := len(q.cids)
	q.mu.RUnlock()
	if limit == 0 {
		limit = q.d.cfg.RecoveryChannelLimit
	}
	chans, err := q.Query(ctx, limit, messageLimit)
	if err != nil {
		return nil, err
	}
	cids := make([]string, 0, len(chans))
	for _, ch := range chans {
		cids = append(cids, ch.CID)
	}
	return cids, nil
}

// absorb persists a server page and pushes fresh state into any active
// channel controllers it covers.
func (q *QueryController) absorb(states []transport.ChannelState) ([]string, error) {
	cids := make([]string, 0, len(states))
	for _, state := range states {
		cids = append(cids, state.Channel.CID)
		if ctrl := q.d.lookupChannel(state.Channel.CID); ctrl != nil {
			st := state
			if err := ctrl.applyChannelState(&st); err != nil {
				return nil, err
			}
			continue
		}
		ch := state.Channel.Clone()
		ch.SyncStatus = models.SyncCompleted
		msgs := make([]models.Message, 0, len(state.Messages))
		for _, m := range state.Messages {
			mm := m.Clone()
			if mm.SyncStatus == "" {
				mm.SyncStatus = models.SyncCompleted
			}
			msgs = append(msgs, mm)
		}
		if err := q.d.store.InsertBatch(storage.Batch{Channels: []models.Channel{ch}, Messages: msgs}); err != nil {
			return nil, err
		}
	}
	return cids, nil
}

func (q *QueryController) persistSpec() error {
	spec := q.spec
	q.mu.RLock()
	spec.CIDs = append([]string(nil), q.cids...)
	q.mu.RUnlock()
	return q.d.store.InsertQuery(spec)
}

// AddChannelIfFilterMatches inserts a channel into the result set at
// its sort position when the filter accepts it.
func (q *QueryController) AddChannelIfFilterMatches(ch models.Channel) bool {
	if !q.spec.Filter.Match(ch) {
		return false
	}
	q.mu.Lock()
	if containsString(q.cids, ch.CID) {
		q.mu.Unlock()
		return false
	}
	q.cids = append(q.cids, ch.CID)
	q.mu.Unlock()
	q.resort()
	if err := q.persistSpec(); err != nil {
		q.d.log.Error("failed to persist query", "query_id", q.id, "error", err)
	}
	return true
}

func (q *QueryController) removeChannel(cid string) {
	q.mu.Lock()
	changed := false
	keep := q.cids[:0]
	for _, c := range q.cids {
		if c == cid {
			changed = true
			continue
		}
		keep = append(keep, c)
	}
	q.cids = keep
	q.mu.Unlock()
	if changed {
		if err := q.persistSpec(); err != nil {
			q.d.log.Error("failed to persist query", "query_id", q.id, "error", err)
		}
	}
}

// HandleEvents keeps the result set consistent with membership and
// lifecycle events. Ordering drift is corrected by re-sorting against
// the persisted snapshots.
func (q *QueryController) HandleEvents(batch []events.Event) {
	changed := false
	for _, ev := range batch {
		switch e := ev.(type) {
		case events.NotificationAddedToChannel:
			if q.AddChannelIfFilterMatches(e.Channel) {
				changed = true
			}
		case events.ChannelUpdated:
			if q.spec.Filter.Match(e.Channel) {
				if q.AddChannelIfFilterMatches(e.Channel) {
					changed = true
				}
			} else {
				q.removeChannel(e.Channel.CID)
				changed = true
			}
		case events.ChannelDeleted:
			q.removeChannel(e.EventCID())
			changed = true
		case events.NotificationChannelDeleted:
			q.removeChannel(e.EventCID())
			changed = true
		case events.ChannelHidden:
			q.removeChannel(e.EventCID())
			changed = true
		case events.MessageNew:
			changed = true
		}
	}
	if changed {
		q.resort()
	}
}

// resort reorders cids by the sort spec against persisted snapshots.
func (q *QueryController) resort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	channels, err := q.d.store.SelectChannels(q.cids)
	if err != nil {
		q.d.log.Error("failed to load channels for sort", "query_id", q.id, "error", err)
		return
	}
	byCID := make(map[string]models.Channel, len(channels))
	for _, ch := range channels {
		byCID[ch.CID] = ch
	}
	sort.SliceStable(q.cids, func(i, j int) bool {
		return q.spec.Sort.Compare(byCID[q.cids[i]], byCID[q.cids[j]]) < 0
	})
}

// Channels resolves the current cid list to persisted snapshots.
func (q *QueryController) Channels() ([]models.Channel, error) {
	q.mu.RLock()
	cids := append([]string(nil), q.cids...)
	q.mu.RUnlock()
	if len(cids) == 0 {
		return nil, nil
	}
	channels, err := q.d.store.SelectChannels(cids)
	if err != nil {
		return nil, err
	}
	byCID := make(map[string]models.Channel, len(channels))
	for _, ch := range channels {
		byCID[ch.CID] = ch
	}
	out := make([]models.Channel, 0, len(cids))
	for _, cid := range cids {
		if ch, ok := byCID[cid]; ok && ch.DeletedAt == nil {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (q *QueryController) CIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]string(nil), q.cids...)
}

func (q *QueryController) Loading() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.loading
}

func (q *QueryController) setLoading(v bool) {
	q.mu.Lock()
	q.loading = v
	q.mu.Unlock()
}

func (q *QueryController) setRecoveryNeeded(v bool) {
	q.mu.Lock()
	q.recoveryNeeded = v
	q.mu.Unlock()
}

func (q *QueryController) needsRecovery() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.recoveryNeeded
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
