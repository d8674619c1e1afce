package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

type FilterOp string

const (
	FilterEq           FilterOp = "eq"
	FilterIn           FilterOp = "in"
	FilterAutocomplete FilterOp = "autocomplete"
	FilterAnd          FilterOp = "and"
	FilterOr           FilterOp = "or"
)

// Filter is a small predicate tree over channel fields. It serializes
// for the transport and evaluates client-side so a locally created
// channel can be inserted into an open query without a requery.
type Filter struct {
	Field string   `json:"field,omitempty"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
	Nodes []Filter `json:"nodes,omitempty"` // for and/or
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: FilterEq, Value: value}
}

func In(field string, values ...string) Filter {
	return Filter{Field: field, Op: FilterIn, Value: values}
}

func Autocomplete(field, prefix string) Filter {
	return Filter{Field: field, Op: FilterAutocomplete, Value: prefix}
}

func And(nodes ...Filter) Filter { return Filter{Op: FilterAnd, Nodes: nodes} }
func Or(nodes ...Filter) Filter  { return Filter{Op: FilterOr, Nodes: nodes} }

// Match evaluates the filter against a channel. Unknown fields do not
// match; the server stays the source of truth for anything richer.
func (f Filter) Match(ch Channel) bool {
	switch f.Op {
	case FilterAnd:
		for _, n := range f.Nodes {
			if !n.Match(ch) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, n := range f.Nodes {
			if n.Match(ch) {
				return true
			}
		}
		return false
	case FilterEq:
		v, ok := channelField(ch, f.Field)
		return ok && v == stringValue(f.Value)
	case FilterIn:
		if f.Field == "members" {
			for _, id := range stringSlice(f.Value) {
				if _, ok := ch.Members[id]; ok {
					return true
				}
			}
			return false
		}
		v, ok := channelField(ch, f.Field)
		if !ok {
			return false
		}
		for _, want := range stringSlice(f.Value) {
			if v == want {
				return true
			}
		}
		return false
	case FilterAutocomplete:
		v, ok := channelField(ch, f.Field)
		return ok && strings.HasPrefix(strings.ToLower(v), strings.ToLower(stringValue(f.Value)))
	}
	return false
}

func channelField(ch Channel, field string) (string, bool) {
	switch field {
	case "cid":
		return ch.CID, true
	case "type":
		return ch.Type, true
	case "id":
		return ch.ID, true
	case "name":
		return ch.Name, true
	case "created_by_id":
		return ch.CreatedByID, true
	}
	if v, ok := ch.Extra[field]; ok {
		return stringValue(v), true
	}
	return "", false
}

// stringSlice tolerates both []string and the []any a JSON round-trip
// of a persisted filter produces.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, stringValue(e))
		}
		return out
	}
	return nil
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

type SortDirection int

const (
	Ascending  SortDirection = 1
	Descending SortDirection = -1
)

type SortOption struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

type Sort []SortOption

// Compare orders two channels per the sort spec; ties fall back to cid
// so the ordering is total and stable.
func (s Sort) Compare(a, b Channel) int {
	for _, opt := range s {
		var c int
		switch opt.Field {
		case "last_message_at":
			c = compareTime(a.LastMessageAt, b.LastMessageAt)
		case "created_at":
			c = compareTime(a.CreatedAt, b.CreatedAt)
		case "updated_at":
			c = compareTime(a.UpdatedAt, b.UpdatedAt)
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "cid":
			c = strings.Compare(a.CID, b.CID)
		}
		if c != 0 {
			return c * int(opt.Direction)
		}
	}
	return strings.Compare(a.CID, b.CID)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// QueryChannelsSpec identifies one channel-list query. The same
// (filter, sort) pair always hashes to the same id.
type QueryChannelsSpec struct {
	Filter Filter   `json:"filter"`
	Sort   Sort     `json:"sort"`
	CIDs   []string `json:"cids,omitempty"`
}

// ID returns the deterministic key for this spec.
func (q QueryChannelsSpec) ID() string {
	payload, _ := json.Marshal(struct {
		Filter Filter `json:"filter"`
		Sort   Sort   `json:"sort"`
	}{q.Filter, q.Sort})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}
