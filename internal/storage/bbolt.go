package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"chatsync/internal/models"
)

var (
	bucketUsers        = []byte("users")
	bucketChannels     = []byte("channels")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketReactions    = []byte("reactions")
	bucketConfigs      = []byte("channel_configs")
	bucketSyncState    = []byte("sync_state")
	bucketQueries      = []byte("queries")
)

var allBuckets = [][]byte{
	bucketUsers,
	bucketChannels,
	bucketMessages,
	bucketMessageIndex,
	bucketReactions,
	bucketConfigs,
	bucketSyncState,
	bucketQueries,
}

type BboltStore struct {
	db *bbolt.DB
}

var _ Store = (*BboltStore)(nil)

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

// Reset drops and recreates every collection.
func (s *BboltStore) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) SelectUsers(ids []string) ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var du DBUser
			if err := du.UnmarshalBinary(data); err != nil {
				return err
			}
			users = append(users, fromDBUser(du))
		}
		return nil
	})
	return users, err
}

func (s *BboltStore) InsertUsers(users []models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putUsers(tx, users)
	})
}

func putUsers(tx *bbolt.Tx, users []models.User) error {
	b := tx.Bucket(bucketUsers)
	for _, u := range users {
		du := toDBUser(u)
		data, err := du.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(du.Key(), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *BboltStore) SelectChannels(cids []string) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		for _, cid := range cids {
			data := b.Get([]byte(cid))
			if data == nil {
				continue
			}
			var dc DBChannel
			if err := dc.UnmarshalBinary(data); err != nil {
				return err
			}
			channels = append(channels, fromDBChannel(dc))
		}
		return nil
	})
	return channels, err
}

func (s *BboltStore) InsertChannels(channels []models.Channel) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putChannels(tx, channels)
	})
}

func putChannels(tx *bbolt.Tx, channels []models.Channel) error {
	b := tx.Bucket(bucketChannels)
	for _, ch := range channels {
		dc := toDBChannel(ch)
		data, err := dc.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dc.Key(), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *BboltStore) SelectAllChannels() ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			var dc DBChannel
			if err := dc.UnmarshalBinary(v); err != nil {
				return err
			}
			channels = append(channels, fromDBChannel(dc))
			return nil
		})
	})
	return channels, err
}

func (s *BboltStore) SelectChannelsSyncNeeded() ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			var dc DBChannel
			if err := dc.UnmarshalBinary(v); err != nil {
				return err
			}
			if dc.SyncStatus == string(models.SyncNeeded) {
				channels = append(channels, fromDBChannel(dc))
			}
			return nil
		})
	})
	return channels, err
}

func (s *BboltStore) SelectMessages(ids []string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var dm DBMessage
			if err := dm.UnmarshalBinary(data); err != nil {
				return err
			}
			messages = append(messages, fromDBMessage(dm))
		}
		return nil
	})
	return messages, err
}

func (s *BboltStore) InsertMessages(messages []models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMessages(tx, messages)
	})
}

func putMessages(tx *bbolt.Tx, messages []models.Message) error {
	msgBucket := tx.Bucket(bucketMessages)
	idxRoot := tx.Bucket(bucketMessageIndex)

	for _, m := range messages {
		if m.CID == "" {
			return fmt.Errorf("message %q missing cid", m.ID)
		}
		dm := toDBMessage(m)

		// A server confirmation can move the creation timestamp; the
		// old index entry has to go before the new one lands.
		if old := msgBucket.Get(dm.Key()); old != nil {
			var prev DBMessage
			if err := prev.UnmarshalBinary(old); err != nil {
				return err
			}
			if prev.CreatedAt != dm.CreatedAt || prev.CID != dm.CID {
				if oldIdx := idxRoot.Bucket([]byte(prev.CID)); oldIdx != nil {
					if err := oldIdx.Delete(prev.IndexKey()); err != nil {
						return err
					}
				}
			}
		}

		data, err := dm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := msgBucket.Put(dm.Key(), data); err != nil {
			return err
		}

		idx, err := idxRoot.CreateBucketIfNotExists([]byte(dm.CID))
		if err != nil {
			return fmt.Errorf("failed to create channel index: %w", err)
		}
		if err := idx.Put(dm.IndexKey(), dm.Key()); err != nil {
			return err
		}
	}
	return nil
}

func (s *BboltStore) SelectMessagesForChannel(cid string, f MessageFilter) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketMessageIndex).Bucket([]byte(cid))
		if idx == nil {
			return nil
		}
		msgBucket := tx.Bucket(bucketMessages)
		c := idx.Cursor()

		load := func(id []byte) error {
			data := msgBucket.Get(id)
			if data == nil {
				return nil
			}
			var dm DBMessage
			if err := dm.UnmarshalBinary(data); err != nil {
				return err
			}
			messages = append(messages, fromDBMessage(dm))
			return nil
		}

		if f.After != nil {
			// Forward from the cutoff, exclusive.
			seek := indexCutoff(f.After.UnixNano() + 1)
			for k, id := c.Seek(seek); k != nil; k, id = c.Next() {
				if err := load(id); err != nil {
					return err
				}
				if f.Limit > 0 && len(messages) >= f.Limit {
					break
				}
			}
			return nil
		}

		// Backwards from the end (or the Before cutoff), then reverse
		// into ascending order.
		var k, id []byte
		if f.Before != nil {
			cutoff := indexCutoff(f.Before.UnixNano())
			k, id = c.Seek(cutoff)
			if k == nil {
				k, id = c.Last()
			} else {
				k, id = c.Prev()
			}
		} else {
			k, id = c.Last()
		}
		for ; k != nil; k, id = c.Prev() {
			if err := load(id); err != nil {
				return err
			}
			if f.Limit > 0 && len(messages) >= f.Limit {
				break
			}
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return nil
	})
	return messages, err
}

// indexCutoff is the smallest index key with the given timestamp.
func indexCutoff(nanos int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(nanos))
	return key
}

func (s *BboltStore) DeleteChannelMessagesBefore(cid string, cutoff time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketMessageIndex).Bucket([]byte(cid))
		if idx == nil {
			return nil
		}
		msgBucket := tx.Bucket(bucketMessages)
		limit := indexCutoff(cutoff.UnixNano())

		c := idx.Cursor()
		for k, id := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, id = c.Next() {
			if err := msgBucket.Delete(id); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) SelectMessagesSyncNeeded() ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var dm DBMessage
			if err := dm.UnmarshalBinary(v); err != nil {
				return err
			}
			if dm.SyncStatus == string(models.SyncNeeded) {
				messages = append(messages, fromDBMessage(dm))
			}
			return nil
		})
	})
	return messages, err
}

func (s *BboltStore) InsertReactions(reactions []models.Reaction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReactions)
		for _, r := range reactions {
			dr := toDBReaction(r)
			data, err := dr.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(dr.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) DeleteReaction(r models.Reaction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dr := toDBReaction(r)
		return tx.Bucket(bucketReactions).Delete(dr.Key())
	})
}

func (s *BboltStore) SelectReactionsSyncNeeded() ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReactions).ForEach(func(k, v []byte) error {
			var dr DBReaction
			if err := dr.UnmarshalBinary(v); err != nil {
				return err
			}
			if dr.SyncStatus == string(models.SyncNeeded) {
				reactions = append(reactions, fromDBReaction(dr))
			}
			return nil
		})
	})
	return reactions, err
}

func (s *BboltStore) SelectChannelConfigs() ([]models.ChannelConfig, error) {
	var configs []models.ChannelConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfigs).ForEach(func(k, v []byte) error {
			var dc DBChannelConfig
			if err := dc.UnmarshalBinary(v); err != nil {
				return err
			}
			configs = append(configs, fromDBConfig(dc))
			return nil
		})
	})
	return configs, err
}

func (s *BboltStore) InsertChannelConfigs(configs []models.ChannelConfig) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		for _, cfg := range configs {
			dc := toDBConfig(cfg)
			data, err := dc.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(dc.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) SelectSyncState(userID string) (*models.SyncState, error) {
	var state *models.SyncState
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSyncState).Get([]byte(userID))
		if data == nil {
			return nil
		}
		var ds DBSyncState
		if err := ds.UnmarshalBinary(data); err != nil {
			return err
		}
		state = &models.SyncState{
			UserID:         ds.UserID,
			ActiveCIDs:     ds.ActiveCIDs,
			ActiveQueryIDs: ds.ActiveQueryIDs,
			LastSyncedAt:   fromUnixNano(ds.LastSyncedAt),
		}
		return nil
	})
	return state, err
}

func (s *BboltStore) InsertSyncState(state models.SyncState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ds := &DBSyncState{
			UserID:         state.UserID,
			ActiveCIDs:     state.ActiveCIDs,
			ActiveQueryIDs: state.ActiveQueryIDs,
			LastSyncedAt:   toUnixNano(state.LastSyncedAt),
		}
		data, err := ds.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSyncState).Put(ds.Key(), data)
	})
}

func (s *BboltStore) SelectQuery(id string) (*models.QueryChannelsSpec, error) {
	var spec *models.QueryChannelsSpec
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketQueries).Get([]byte(id))
		if data == nil {
			return nil
		}
		var dq DBQuery
		if err := dq.UnmarshalBinary(data); err != nil {
			return err
		}
		q, err := fromDBQuery(dq)
		if err != nil {
			return err
		}
		spec = &q
		return nil
	})
	return spec, err
}

func (s *BboltStore) InsertQuery(q models.QueryChannelsSpec) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dq, err := toDBQuery(q)
		if err != nil {
			return err
		}
		data, err := dq.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQueries).Put(dq.Key(), data)
	})
}

// InsertBatch commits the net result of one reconcile pass in a single
// transaction. Users land first so channel and message references
// resolve against persisted users.
func (s *BboltStore) InsertBatch(b Batch) error {
	if b.Empty() {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putUsers(tx, b.Users); err != nil {
			return err
		}
		if err := putChannels(tx, b.Channels); err != nil {
			return err
		}
		return putMessages(tx, b.Messages)
	})
}
