package types

import (
	"sort"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single role-tagged entry of a conversation.
// Messages are immutable once appended.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp int64          `json:"timestamp"` // epoch millis
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageInput is the caller-supplied part of a message; ID and Timestamp are
// assigned by the store at append time.
type MessageInput struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Conversation is an ordered, append-only sequence of messages plus metadata.
type Conversation struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no slices or maps with c.
// Metadata values are copied one level deep.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

// Clone returns a copy of m with its own metadata map.
func (m Message) Clone() Message {
	m.Metadata = cloneMap(m.Metadata)
	return m
}

// MessageQuery filters GetMessages. Zero values mean "unbounded".
type MessageQuery struct {
	// StartTime and EndTime are inclusive epoch-millis bounds.
	StartTime int64 `json:"start_time,omitempty"`
	EndTime   int64 `json:"end_time,omitempty"`
	// Limit keeps only the most recent N matching messages.
	Limit int `json:"limit,omitempty"`
}

// Apply filters msgs (already in append order) and returns a fresh slice.
func (q MessageQuery) Apply(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if q.StartTime > 0 && m.Timestamp < q.StartTime {
			continue
		}
		if q.EndTime > 0 && m.Timestamp > q.EndTime {
			continue
		}
		out = append(out, m.Clone())
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Item is a tagged, optionally expiring key/value record independent of any
// conversation.
type Item struct {
	Key   string   `json:"key"`
	Value any      `json:"value"`
	Tags  []string `json:"tags,omitempty"`
	// TTL is an absolute expiry in epoch seconds; 0 means the item never expires.
	TTL       int64     `json:"ttl,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the item is past its expiry at now.
func (it *Item) Expired(now time.Time) bool {
	return it.TTL > 0 && now.Unix() > it.TTL
}

// HasAllTags reports whether the item carries every tag in tags.
func (it *Item) HasAllTags(tags []string) bool {
	if len(tags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(it.Tags))
	for _, t := range it.Tags {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a copy of the item with its own tag slice. Value is shared.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	out := *it
	out.Tags = append([]string(nil), it.Tags...)
	return &out
}

// ExpiryFromTTL converts a relative ttl into the absolute epoch-seconds form
// stored on items. A non-positive ttl means no expiry.
func ExpiryFromTTL(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	exp := now.Add(ttl)
	// round up so that sub-second ttls still expire strictly after now
	if exp.Nanosecond() > 0 {
		return exp.Unix() + 1
	}
	return exp.Unix()
}

// NormalizeTags removes empty and duplicate tags and sorts the result.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
