package events

import (
	"testing"
	"time"

	"chatsync/internal/models"
)

func TestSortBatch(t *testing.T) {
	base := time.Now()
	batch := []Event{
		MessageUpdated{ChannelBase: ChannelAt("messaging:a", base.Add(2 * time.Second))},
		MessageNew{ChannelBase: ChannelAt("messaging:a", base)},
		ReactionNew{ChannelBase: ChannelAt("messaging:a", base.Add(time.Second))},
	}
	SortBatch(batch)

	for i := 1; i < len(batch); i++ {
		if batch[i].EventCreatedAt().Before(batch[i-1].EventCreatedAt()) {
			t.Fatalf("batch out of order at %d", i)
		}
	}
	if _, ok := batch[0].(MessageNew); !ok {
		t.Errorf("expected MessageNew first, got %T", batch[0])
	}
}

func TestSortBatch_StableOnTies(t *testing.T) {
	at := time.Now()
	batch := []Event{
		TypingStart{ChannelBase: ChannelAt("messaging:a", at), UserID: "u1"},
		TypingStop{ChannelBase: ChannelAt("messaging:a", at), UserID: "u1"},
	}
	SortBatch(batch)

	// Same timestamp: delivery order decides, so the stop still wins.
	if _, ok := batch[1].(TypingStop); !ok {
		t.Errorf("tie must preserve delivery order, got %T last", batch[1])
	}
}

func TestEventInterfaces(t *testing.T) {
	var ev Event = MessageNew{
		ChannelBase: ChannelAt("messaging:general", time.Now()),
		Unread:      WithUnread(3, 1),
		Message:     models.Message{ID: "m1"},
	}

	ce, ok := ev.(HasCID)
	if !ok {
		t.Fatal("MessageNew must carry a cid")
	}
	if ce.EventCID() != "messaging:general" {
		t.Errorf("EventCID = %s", ce.EventCID())
	}

	uc, ok := ev.(HasUnreadCounts)
	if !ok {
		t.Fatal("MessageNew must carry unread counts")
	}
	total, channels := uc.UnreadCounts()
	if total != 3 || channels != 1 {
		t.Errorf("UnreadCounts = %d, %d", total, channels)
	}

	if _, ok := Event(Connected{}).(HasCID); ok {
		t.Error("Connected is not channel-scoped")
	}
}
