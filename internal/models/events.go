package models

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// EventMask selects which event types a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete

	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

func (t EventType) mask() EventMask {
	switch t {
	case EventInsert:
		return MaskInsert
	case EventUpdate:
		return MaskUpdate
	case EventDelete:
		return MaskDelete
	}
	return 0
}

// Has reports whether events of type t pass the mask.
func (m EventMask) Has(t EventType) bool {
	return m&t.mask() != 0
}

// String renders the mask as "*" or a comma separated list of event types.
func (m EventMask) String() string {
	if m&MaskAll == MaskAll {
		return "*"
	}
	var parts []string
	for _, t := range []EventType{EventInsert, EventUpdate, EventDelete} {
		if m.Has(t) {
			parts = append(parts, string(t))
		}
	}
	return strings.Join(parts, ",")
}

// ParseEventMask is the inverse of EventMask.String. An empty string selects
// every event type.
func ParseEventMask(s string) (EventMask, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return MaskAll, nil
	}
	var m EventMask
	for _, part := range strings.Split(s, ",") {
		t := EventType(strings.ToUpper(strings.TrimSpace(part)))
		if t.mask() == 0 {
			return 0, fmt.Errorf("unknown event type %q", part)
		}
		m |= t.mask()
	}
	return m, nil
}

// ChangeEvent is one row change pushed by the backend. Record carries the
// identifying columns of the changed row as strings.
type ChangeEvent struct {
	Relation string            `json:"relation"`
	Type     EventType         `json:"type"`
	Record   map[string]string `json:"record"`
	At       time.Time         `json:"at"`
}

// Filter is an equality filter on one column of the changed row.
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type Subscription struct {
	Relation string    `json:"relation"`
	Events   EventMask `json:"events"`
	Filter   *Filter   `json:"filter,omitempty"`
}

// Matches reports whether ev should be delivered to the subscription.
func (s Subscription) Matches(ev ChangeEvent) bool {
	if s.Relation != ev.Relation || !s.Events.Has(ev.Type) {
		return false
	}
	if s.Filter == nil {
		return true
	}
	v, ok := ev.Record[s.Filter.Column]
	return ok && v == s.Filter.Value
}
