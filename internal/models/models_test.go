package models

import (
	"reflect"
	"testing"
	"time"
)

func TestSyncStatusTerminal(t *testing.T) {
	if SyncNeeded.Terminal() || SyncInProgress.Terminal() {
		t.Error("pending statuses must not be terminal")
	}
	if !SyncCompleted.Terminal() || !FailedPermanently.Terminal() {
		t.Error("completed and failed statuses must be terminal")
	}
}

func TestMessage_AddReaction(t *testing.T) {
	msg := Message{ID: "m1", CID: "messaging:general"}
	r := Reaction{MessageID: "m1", UserID: "u1", Type: "like"}

	msg = msg.AddReaction(r, true, false)

	if msg.ReactionCounts["like"] != 1 {
		t.Errorf("expected count 1, got %d", msg.ReactionCounts["like"])
	}
	if msg.ReactionScores["like"] != 1 {
		t.Errorf("expected score 1, got %d", msg.ReactionScores["like"])
	}
	if len(msg.OwnReactions) != 1 {
		t.Errorf("expected 1 own reaction, got %d", len(msg.OwnReactions))
	}
	if len(msg.LatestReactions) != 1 {
		t.Errorf("expected 1 latest reaction, got %d", len(msg.LatestReactions))
	}
}

func TestMessage_AddReaction_EnforceUnique(t *testing.T) {
	msg := Message{ID: "m1"}
	msg = msg.AddReaction(Reaction{MessageID: "m1", UserID: "u1", Type: "like"}, true, false)
	msg = msg.AddReaction(Reaction{MessageID: "m1", UserID: "u2", Type: "like"}, false, false)

	// Same user switches reaction; the old one must be dropped.
	msg = msg.AddReaction(Reaction{MessageID: "m1", UserID: "u1", Type: "love"}, true, true)

	if msg.ReactionCounts["like"] != 1 {
		t.Errorf("expected like count 1 after unique switch, got %d", msg.ReactionCounts["like"])
	}
	if msg.ReactionCounts["love"] != 1 {
		t.Errorf("expected love count 1, got %d", msg.ReactionCounts["love"])
	}
	if len(msg.OwnReactions) != 1 || msg.OwnReactions[0].Type != "love" {
		t.Errorf("expected single own reaction of type love, got %+v", msg.OwnReactions)
	}
}

func TestMessage_AddRemoveReactionRoundTrip(t *testing.T) {
	base := Message{ID: "m1", CID: "messaging:general", Text: "hi"}
	r := Reaction{MessageID: "m1", UserID: "u1", Type: "like", Score: 3}

	patched := base.AddReaction(r, true, false)
	restored := patched.RemoveReaction(r)

	if !reflect.DeepEqual(base, restored) {
		t.Errorf("add+remove must restore the message: got %+v, want %+v", restored, base)
	}
}

func TestMessage_RemoveReaction_Absent(t *testing.T) {
	base := Message{ID: "m1"}
	r := Reaction{MessageID: "m1", UserID: "u1", Type: "like"}

	got := base.RemoveReaction(r)
	if !reflect.DeepEqual(base, got) {
		t.Errorf("removing an absent reaction must be a no-op, got %+v", got)
	}
}

func TestMessage_Clone_NoAliasing(t *testing.T) {
	now := time.Now()
	msg := Message{
		ID:             "m1",
		ReactionCounts: map[string]int{"like": 1},
		OwnReactions:   []Reaction{{MessageID: "m1", UserID: "u1", Type: "like", CreatedAt: now}},
	}
	cp := msg.Clone()
	cp.ReactionCounts["like"] = 99
	cp.OwnReactions[0].Type = "love"

	if msg.ReactionCounts["like"] != 1 {
		t.Error("clone aliases ReactionCounts")
	}
	if msg.OwnReactions[0].Type != "like" {
		t.Error("clone aliases OwnReactions")
	}
}

func TestChannel_Clone_NoAliasing(t *testing.T) {
	ch := Channel{
		CID:     "messaging:general",
		Members: map[string]Member{"u1": {UserID: "u1", Role: "member"}},
		Reads:   map[string]time.Time{"u1": time.Now()},
	}
	cp := ch.Clone()
	cp.Members["u2"] = Member{UserID: "u2"}
	delete(cp.Reads, "u1")

	if _, ok := ch.Members["u2"]; ok {
		t.Error("clone aliases Members")
	}
	if _, ok := ch.Reads["u1"]; !ok {
		t.Error("clone aliases Reads")
	}
}
