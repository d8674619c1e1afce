package models

import (
	"errors"
	"testing"
)

func TestParseCID(t *testing.T) {
	tests := []struct {
		cid         string
		channelType string
		channelID   string
		wantErr     bool
	}{
		{"messaging:general", "messaging", "general", false},
		{"team:dev-ops_2", "team", "dev-ops_2", false},
		{"!members:!general", "!members", "!general", false},
		{"messaging", "", "", true},
		{"", "", "", true},
		{"messaging:", "", "", true},
		{":general", "", "", true},
		{"messaging:gen eral", "", "", true},
		{"mess aging:general", "", "", true},
		{"messaging:gen:eral", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.cid, func(t *testing.T) {
			channelType, channelID, err := ParseCID(tt.cid)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.cid)
				}
				if !errors.Is(err, ErrInvalidCID) {
					t.Errorf("expected ErrInvalidCID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCID(%q) failed: %v", tt.cid, err)
			}
			if channelType != tt.channelType || channelID != tt.channelID {
				t.Errorf("got (%q, %q), want (%q, %q)", channelType, channelID, tt.channelType, tt.channelID)
			}
		})
	}
}

func TestJoinCID(t *testing.T) {
	cid, err := JoinCID("messaging", "general")
	if err != nil {
		t.Fatalf("JoinCID failed: %v", err)
	}
	if cid != "messaging:general" {
		t.Errorf("expected messaging:general, got %s", cid)
	}

	if _, err := JoinCID("messaging", "has space"); err == nil {
		t.Error("expected error for invalid channel id")
	}
	if _, err := JoinCID("", "general"); err == nil {
		t.Error("expected error for empty channel type")
	}
}
