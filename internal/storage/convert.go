package storage

import (
	"encoding/json"
	"time"

	"chatsync/internal/models"
)

func toDBUser(u models.User) *DBUser {
	return &DBUser{
		ID:         u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Banned:     u.Banned,
		Online:     u.Online,
		Mutes:      u.Mutes,
		LastActive: toUnixNano(u.LastActive),
		Extra:      u.Extra,
	}
}

func fromDBUser(u DBUser) models.User {
	return models.User{
		ID:         u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Banned:     u.Banned,
		Online:     u.Online,
		Mutes:      u.Mutes,
		LastActive: fromUnixNano(u.LastActive),
		Extra:      u.Extra,
	}
}

func toDBChannel(c models.Channel) *DBChannel {
	dc := &DBChannel{
		CID:                c.CID,
		Type:               c.Type,
		ID:                 c.ID,
		Name:               c.Name,
		CreatedByID:        c.CreatedByID,
		Hidden:             c.Hidden,
		HideMessagesBefore: toUnixNanoPtr(c.HideMessagesBefore),
		DeletedAt:          toUnixNanoPtr(c.DeletedAt),
		CreatedAt:          toUnixNano(c.CreatedAt),
		UpdatedAt:          toUnixNano(c.UpdatedAt),
		LastMessageAt:      toUnixNano(c.LastMessageAt),
		Extra:              c.Extra,
		SyncStatus:         string(c.SyncStatus),
	}
	if len(c.Members) > 0 {
		dc.Members = make(map[string]DBMember, len(c.Members))
		for id, m := range c.Members {
			dc.Members[id] = DBMember{UserID: m.UserID, Role: m.Role, CreatedAt: toUnixNano(m.CreatedAt)}
		}
	}
	if len(c.Reads) > 0 {
		dc.Reads = make(map[string]int64, len(c.Reads))
		for id, t := range c.Reads {
			dc.Reads[id] = toUnixNano(t)
		}
	}
	return dc
}

func fromDBChannel(c DBChannel) models.Channel {
	ch := models.Channel{
		CID:                c.CID,
		Type:               c.Type,
		ID:                 c.ID,
		Name:               c.Name,
		CreatedByID:        c.CreatedByID,
		Hidden:             c.Hidden,
		HideMessagesBefore: fromUnixNanoPtr(c.HideMessagesBefore),
		DeletedAt:          fromUnixNanoPtr(c.DeletedAt),
		CreatedAt:          fromUnixNano(c.CreatedAt),
		UpdatedAt:          fromUnixNano(c.UpdatedAt),
		LastMessageAt:      fromUnixNano(c.LastMessageAt),
		Extra:              c.Extra,
		SyncStatus:         models.SyncStatus(c.SyncStatus),
	}
	if len(c.Members) > 0 {
		ch.Members = make(map[string]models.Member, len(c.Members))
		for id, m := range c.Members {
			ch.Members[id] = models.Member{UserID: m.UserID, Role: m.Role, CreatedAt: fromUnixNano(m.CreatedAt)}
		}
	}
	if len(c.Reads) > 0 {
		ch.Reads = make(map[string]time.Time, len(c.Reads))
		for id, n := range c.Reads {
			ch.Reads[id] = fromUnixNano(n)
		}
	}
	return ch
}

func toDBReaction(r models.Reaction) DBReaction {
	return DBReaction{
		MessageID:  r.MessageID,
		UserID:     r.UserID,
		Type:       r.Type,
		Score:      r.Score,
		CreatedAt:  toUnixNano(r.CreatedAt),
		SyncStatus: string(r.SyncStatus),
	}
}

func fromDBReaction(r DBReaction) models.Reaction {
	return models.Reaction{
		MessageID:  r.MessageID,
		UserID:     r.UserID,
		Type:       r.Type,
		Score:      r.Score,
		CreatedAt:  fromUnixNano(r.CreatedAt),
		SyncStatus: models.SyncStatus(r.SyncStatus),
	}
}

func toDBReactions(rs []models.Reaction) []DBReaction {
	if len(rs) == 0 {
		return nil
	}
	out := make([]DBReaction, len(rs))
	for i, r := range rs {
		out[i] = toDBReaction(r)
	}
	return out
}

func fromDBReactions(rs []DBReaction) []models.Reaction {
	if len(rs) == 0 {
		return nil
	}
	out := make([]models.Reaction, len(rs))
	for i, r := range rs {
		out[i] = fromDBReaction(r)
	}
	return out
}

func toDBMessage(m models.Message) *DBMessage {
	dm := &DBMessage{
		ID:              m.ID,
		CID:             m.CID,
		UserID:          m.UserID,
		Text:            m.Text,
		CreatedAt:       toUnixNano(m.CreatedAt),
		UpdatedAt:       toUnixNano(m.UpdatedAt),
		DeletedAt:       toUnixNanoPtr(m.DeletedAt),
		SyncStatus:      string(m.SyncStatus),
		ReactionCounts:  m.ReactionCounts,
		ReactionScores:  m.ReactionScores,
		LatestReactions: toDBReactions(m.LatestReactions),
		OwnReactions:    toDBReactions(m.OwnReactions),
	}
	if len(m.Attachments) > 0 {
		dm.Attachments = make([]DBAttachment, len(m.Attachments))
		for i, a := range m.Attachments {
			dm.Attachments[i] = DBAttachment{
				Type:     string(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				AssetURL: a.AssetURL,
			}
		}
	}
	return dm
}

func fromDBMessage(m DBMessage) models.Message {
	msg := models.Message{
		ID:              m.ID,
		CID:             m.CID,
		UserID:          m.UserID,
		Text:            m.Text,
		CreatedAt:       fromUnixNano(m.CreatedAt),
		UpdatedAt:       fromUnixNano(m.UpdatedAt),
		DeletedAt:       fromUnixNanoPtr(m.DeletedAt),
		SyncStatus:      models.SyncStatus(m.SyncStatus),
		ReactionCounts:  m.ReactionCounts,
		ReactionScores:  m.ReactionScores,
		LatestReactions: fromDBReactions(m.LatestReactions),
		OwnReactions:    fromDBReactions(m.OwnReactions),
	}
	if len(m.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			msg.Attachments[i] = models.Attachment{
				Type:     models.AttachmentType(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				AssetURL: a.AssetURL,
			}
		}
	}
	return msg
}

func toDBConfig(c models.ChannelConfig) *DBChannelConfig {
	return &DBChannelConfig{
		ChannelType:      c.ChannelType,
		ReactionsEnabled: c.ReactionsEnabled,
		TypingEvents:     c.TypingEvents,
		ReadEvents:       c.ReadEvents,
		Replies:          c.Replies,
		MaxMessageLength: c.MaxMessageLength,
	}
}

func fromDBConfig(c DBChannelConfig) models.ChannelConfig {
	return models.ChannelConfig{
		ChannelType:      c.ChannelType,
		ReactionsEnabled: c.ReactionsEnabled,
		TypingEvents:     c.TypingEvents,
		ReadEvents:       c.ReadEvents,
		Replies:          c.Replies,
		MaxMessageLength: c.MaxMessageLength,
	}
}

func toDBQuery(q models.QueryChannelsSpec) (*DBQuery, error) {
	filter, err := json.Marshal(q.Filter)
	if err != nil {
		return nil, err
	}
	sort, err := json.Marshal(q.Sort)
	if err != nil {
		return nil, err
	}
	return &DBQuery{ID: q.ID(), Filter: filter, Sort: sort, CIDs: q.CIDs}, nil
}

func fromDBQuery(q DBQuery) (models.QueryChannelsSpec, error) {
	var spec models.QueryChannelsSpec
	if err := json.Unmarshal(q.Filter, &spec.Filter); err != nil {
		return spec, err
	}
	if err := json.Unmarshal(q.Sort, &spec.Sort); err != nil {
		return spec, err
	}
	spec.CIDs = q.CIDs
	return spec, nil
}
