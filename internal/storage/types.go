package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID         string         `msgpack:"id"`
	Name       string         `msgpack:"name"`
	Role       string         `msgpack:"role"`
	Banned     bool           `msgpack:"banned"`
	Online     bool           `msgpack:"online"`
	Mutes      []string       `msgpack:"mutes"`
	LastActive int64          `msgpack:"lastActive"`
	Extra      map[string]any `msgpack:"extra"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMember struct {
	UserID    string `msgpack:"userId"`
	Role      string `msgpack:"role"`
	CreatedAt int64  `msgpack:"createdAt"`
}

type DBChannel struct {
	CID                string              `msgpack:"cid"`
	Type               string              `msgpack:"type"`
	ID                 string              `msgpack:"id"`
	Name               string              `msgpack:"name"`
	CreatedByID        string              `msgpack:"createdById"`
	Members            map[string]DBMember `msgpack:"members"`
	Reads              map[string]int64    `msgpack:"reads"`
	Hidden             bool                `msgpack:"hidden"`
	HideMessagesBefore int64               `msgpack:"hideMessagesBefore"`
	DeletedAt          int64               `msgpack:"deletedAt"`
	CreatedAt          int64               `msgpack:"createdAt"`
	UpdatedAt          int64               `msgpack:"updatedAt"`
	LastMessageAt      int64               `msgpack:"lastMessageAt"`
	Extra              map[string]any      `msgpack:"extra"`
	SyncStatus         string              `msgpack:"syncStatus"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.CID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	AssetURL string `msgpack:"assetUrl"`
}

type DBReaction struct {
	MessageID  string `msgpack:"messageId"`
	UserID     string `msgpack:"userId"`
	Type       string `msgpack:"type"`
	Score      int    `msgpack:"score"`
	CreatedAt  int64  `msgpack:"createdAt"`
	SyncStatus string `msgpack:"syncStatus"`
}

// Key is the composite reaction identity (messageId, userId, type).
func (r *DBReaction) Key() []byte {
	return []byte(r.MessageID + "\x00" + r.UserID + "\x00" + r.Type)
}

func (r *DBReaction) MarshalBinary() (data []byte, err error) {
	type alias DBReaction
	return msgpack.Marshal((*alias)(r))
}

func (r *DBReaction) UnmarshalBinary(data []byte) error {
	type alias DBReaction
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessage struct {
	ID              string         `msgpack:"id"`
	CID             string         `msgpack:"cid"`
	UserID          string         `msgpack:"userId"`
	Text            string         `msgpack:"text"`
	Attachments     []DBAttachment `msgpack:"attachments"`
	CreatedAt       int64          `msgpack:"createdAt"`
	UpdatedAt       int64          `msgpack:"updatedAt"`
	DeletedAt       int64          `msgpack:"deletedAt"`
	SyncStatus      string         `msgpack:"syncStatus"`
	ReactionCounts  map[string]int `msgpack:"reactionCounts"`
	ReactionScores  map[string]int `msgpack:"reactionScores"`
	LatestReactions []DBReaction   `msgpack:"latestReactions"`
	OwnReactions    []DBReaction   `msgpack:"ownReactions"`
}

func (m *DBMessage) Key() []byte {
	return []byte(m.ID)
}

// IndexKey orders a channel's messages by creation time; the id suffix
// disambiguates same-nanosecond messages.
func (m *DBMessage) IndexKey() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBChannelConfig struct {
	ChannelType      string `msgpack:"channelType"`
	ReactionsEnabled bool   `msgpack:"reactionsEnabled"`
	TypingEvents     bool   `msgpack:"typingEvents"`
	ReadEvents       bool   `msgpack:"readEvents"`
	Replies          bool   `msgpack:"replies"`
	MaxMessageLength int    `msgpack:"maxMessageLength"`
}

func (c *DBChannelConfig) Key() []byte {
	return []byte(c.ChannelType)
}

func (c *DBChannelConfig) MarshalBinary() (data []byte, err error) {
	type alias DBChannelConfig
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannelConfig) UnmarshalBinary(data []byte) error {
	type alias DBChannelConfig
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBSyncState struct {
	UserID         string   `msgpack:"userId"`
	ActiveCIDs     []string `msgpack:"activeCids"`
	ActiveQueryIDs []string `msgpack:"activeQueryIds"`
	LastSyncedAt   int64    `msgpack:"lastSyncedAt"`
}

func (s *DBSyncState) Key() []byte {
	return []byte(s.UserID)
}

func (s *DBSyncState) MarshalBinary() (data []byte, err error) {
	type alias DBSyncState
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSyncState) UnmarshalBinary(data []byte) error {
	type alias DBSyncState
	return msgpack.Unmarshal(data, (*alias)(s))
}

type DBQuery struct {
	ID     string   `msgpack:"id"`
	Filter []byte   `msgpack:"filter"` // canonical JSON of the filter tree
	Sort   []byte   `msgpack:"sort"`
	CIDs   []string `msgpack:"cids"`
}

func (q *DBQuery) Key() []byte {
	return []byte(q.ID)
}

func (q *DBQuery) MarshalBinary() (data []byte, err error) {
	type alias DBQuery
	return msgpack.Marshal((*alias)(q))
}

func (q *DBQuery) UnmarshalBinary(data []byte) error {
	type alias DBQuery
	return msgpack.Unmarshal(data, (*alias)(q))
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toUnixNanoPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanoPtr(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
