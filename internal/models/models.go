package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidCID = errors.New("invalid cid")
	ErrEmptyField = errors.New("required field is empty")
)

// SyncStatus tracks whether a locally originated change has been
// confirmed by the server.
type SyncStatus string

const (
	SyncNeeded        SyncStatus = "sync_needed"
	SyncInProgress    SyncStatus = "in_progress"
	SyncCompleted     SyncStatus = "completed"
	FailedPermanently SyncStatus = "failed_permanently"
)

// Terminal reports whether the status can no longer change on its own.
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == FailedPermanently
}

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncNeeded, SyncInProgress, SyncCompleted, FailedPermanently:
		return true
	}
	return false
}

// User represents a chat user. Upserted whenever seen in any event or
// response; the current user additionally drives unread counters.
type User struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Role       string         `json:"role,omitempty"`
	Banned     bool           `json:"banned,omitempty"`
	Online     bool           `json:"online,omitempty"`
	Mutes      []string       `json:"mutes,omitempty"` // muted user ids
	LastActive time.Time      `json:"lastActive,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy so accumulated entities are never aliased
// between the reconciler and a controller's live state.
func (u User) Clone() User {
	out := u
	out.Mutes = append([]string(nil), u.Mutes...)
	if u.Extra != nil {
		out.Extra = make(map[string]any, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Member is one entry in a channel's member map.
type Member struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ChannelConfig holds per-channel-type capabilities.
type ChannelConfig struct {
	ChannelType      string `json:"channelType"`
	ReactionsEnabled bool   `json:"reactionsEnabled"`
	TypingEvents     bool   `json:"typingEvents"`
	ReadEvents       bool   `json:"readEvents"`
	Replies          bool   `json:"replies"`
	MaxMessageLength int    `json:"maxMessageLength"`
}

// Channel represents a chat channel. Identity is the composite cid
// "type:id"; the member and read maps are patched per event, never
// wholesale replaced.
type Channel struct {
	CID                string               `json:"cid"`
	Type               string               `json:"type"`
	ID                 string               `json:"id"`
	Name               string               `json:"name,omitempty"`
	CreatedByID        string               `json:"createdById,omitempty"`
	Members            map[string]Member    `json:"members,omitempty"`
	Reads              map[string]time.Time `json:"reads,omitempty"` // user id -> last read
	Config             ChannelConfig        `json:"config"`
	Hidden             bool                 `json:"hidden,omitempty"`
	HideMessagesBefore *time.Time           `json:"hideMessagesBefore,omitempty"`
	DeletedAt          *time.Time           `json:"deletedAt,omitempty"`
	CreatedAt          time.Time            `json:"createdAt,omitempty"`
	UpdatedAt          time.Time            `json:"updatedAt,omitempty"`
	LastMessageAt      time.Time            `json:"lastMessageAt,omitempty"`
	Extra              map[string]any       `json:"extra,omitempty"`
	SyncStatus         SyncStatus           `json:"syncStatus,omitempty"`
}

func (c Channel) Clone() Channel {
	out := c
	if c.Members != nil {
		out.Members = make(map[string]Member, len(c.Members))
		for k, v := range c.Members {
			out.Members[k] = v
		}
	}
	if c.Reads != nil {
		out.Reads = make(map[string]time.Time, len(c.Reads))
		for k, v := range c.Reads {
			out.Reads[k] = v
		}
	}
	if c.HideMessagesBefore != nil {
		t := *c.HideMessagesBefore
		out.HideMessagesBefore = &t
	}
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	AssetURL string         `json:"assetUrl,omitempty"`
}

// Message represents a chat message. Identity is immutable once
// assigned; edits mutate content in place.
type Message struct {
	ID              string         `json:"id"`
	CID             string         `json:"cid"`
	UserID          string         `json:"userId"`
	Text            string         `json:"text"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt,omitempty"`
	DeletedAt       *time.Time     `json:"deletedAt,omitempty"`
	SyncStatus      SyncStatus     `json:"syncStatus,omitempty"`
	ReactionCounts  map[string]int `json:"reactionCounts,omitempty"`
	ReactionScores  map[string]int `json:"reactionScores,omitempty"`
	LatestReactions []Reaction     `json:"latestReactions,omitempty"`
	OwnReactions    []Reaction     `json:"ownReactions,omitempty"`
}

func (m Message) Clone() Message {
	out := m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.LatestReactions = append([]Reaction(nil), m.LatestReactions...)
	out.OwnReactions = append([]Reaction(nil), m.OwnReactions...)
	if m.ReactionCounts != nil {
		out.ReactionCounts = make(map[string]int, len(m.ReactionCounts))
		for k, v := range m.ReactionCounts {
			out.ReactionCounts[k] = v
		}
	}
	if m.ReactionScores != nil {
		out.ReactionScores = make(map[string]int, len(m.ReactionScores))
		for k, v := range m.ReactionScores {
			out.ReactionScores[k] = v
		}
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// AddReaction folds a reaction into the message aggregate, returning a
// new message value. When enforceUnique is set, any prior reaction by
// the same user (of any type) is removed first, mirroring the server
// so the local view does not flicker before the echo arrives.
func (m Message) AddReaction(r Reaction, own, enforceUnique bool) Message {
	out := m.Clone()
	if enforceUnique {
		out = out.removeUserReactions(r.UserID)
	}
	if out.ReactionCounts == nil {
		out.ReactionCounts = map[string]int{}
	}
	if out.ReactionScores == nil {
		out.ReactionScores = map[string]int{}
	}
	out.ReactionCounts[r.Type]++
	out.ReactionScores[r.Type] += reactionScore(r)
	out.LatestReactions = append(out.LatestReactions, r)
	if own {
		out.OwnReactions = append(out.OwnReactions, r)
	}
	return out
}

// RemoveReaction removes one (user, type) reaction from the aggregate,
// returning a new message value. Removing a reaction that is not
// present is a no-op.
func (m Message) RemoveReaction(r Reaction) Message {
	out := m.Clone()
	found := false
	keep := make([]Reaction, 0, len(out.LatestReactions))
	for _, lr := range out.LatestReactions {
		if !found && lr.UserID == r.UserID && lr.Type == r.Type {
			found = true
			continue
		}
		keep = append(keep, lr)
	}
	if !found {
		return out
	}
	out.LatestReactions = keep
	out.decrementReaction(r.Type, reactionScore(r))
	keepOwn := make([]Reaction, 0, len(out.OwnReactions))
	for _, or := range out.OwnReactions {
		if or.UserID == r.UserID && or.Type == r.Type {
			continue
		}
		keepOwn = append(keepOwn, or)
	}
	out.OwnReactions = keepOwn
	if len(out.LatestReactions) == 0 {
		out.LatestReactions = nil
	}
	if len(out.OwnReactions) == 0 {
		out.OwnReactions = nil
	}
	return out
}

func (m *Message) decrementReaction(reactionType string, score int) {
	if m.ReactionCounts[reactionType] > 1 {
		m.ReactionCounts[reactionType]--
	} else {
		delete(m.ReactionCounts, reactionType)
	}
	if len(m.ReactionCounts) == 0 {
		m.ReactionCounts = nil
	}
	if m.ReactionScores[reactionType] > score {
		m.ReactionScores[reactionType] -= score
	} else {
		delete(m.ReactionScores, reactionType)
	}
	if len(m.ReactionScores) == 0 {
		m.ReactionScores = nil
	}
}

func (m Message) removeUserReactions(userID string) Message {
	out := m
	keep := make([]Reaction, 0, len(out.LatestReactions))
	for _, lr := range out.LatestReactions {
		if lr.UserID == userID {
			out.decrementReaction(lr.Type, reactionScore(lr))
			continue
		}
		keep = append(keep, lr)
	}
	out.LatestReactions = keep
	keepOwn := make([]Reaction, 0, len(out.OwnReactions))
	for _, or := range out.OwnReactions {
		if or.UserID == userID {
			continue
		}
		keepOwn = append(keepOwn, or)
	}
	out.OwnReactions = keepOwn
	return out
}

func reactionScore(r Reaction) int {
	if r.Score == 0 {
		return 1
	}
	return r.Score
}

// Reaction is uniquely identified by (MessageID, UserID, Type).
type Reaction struct {
	MessageID  string     `json:"messageId"`
	UserID     string     `json:"userId"`
	Type       string     `json:"type"`
	Score      int        `json:"score,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

// SyncState is kept once per current user and bounds event replay after
// a connectivity gap.
type SyncState struct {
	UserID         string    `json:"userId"`
	ActiveCIDs     []string  `json:"activeCids"`
	ActiveQueryIDs []string  `json:"activeQueryIds"`
	LastSyncedAt   time.Time `json:"lastSyncedAt"`
}
