package core

import (
	"fmt"
	"time"
)

// Conditions is a set of field -> expected-value equality predicates
// matched against an event subject. Equality on string forms is the whole
// expression language; range and boolean operators are deliberately out of
// scope.
type Conditions map[string]string

// Match reports whether every declared condition holds on the subject.
// A subject missing a declared field never matches (fail-closed). An empty
// condition set always matches.
func (c Conditions) Match(subject map[string]interface{}) bool {
	for field, expected := range c {
		if subject == nil {
			return false
		}
		v, ok := subject[field]
		if !ok || v == nil {
			return false
		}
		if fmt.Sprint(v) != expected {
			return false
		}
	}
	return true
}

// NotificationRule is a tenant-defined trigger: when an event of EventType
// arrives for the tenant and Conditions match its subject, the rule fires a
// notification rendered from Template through the referenced channels.
type NotificationRule struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Name          string     `json:"name"`
	EventType     string     `json:"event_type"`
	Active        bool       `json:"active"`
	Conditions    Conditions `json:"conditions,omitempty"`
	Template      string     `json:"template"`
	CustomEventID string     `json:"custom_event_id,omitempty"`
	ChannelIDs    []string   `json:"channel_ids"` // ordered, at least one
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate enforces the rule invariants.
func (r *NotificationRule) Validate() error {
	if r.ID == "" {
		return ErrIDRequired
	}
	if r.TenantID == "" {
		return ErrTenantRequired
	}
	if r.Name == "" {
		return ErrNameRequired
	}
	if r.EventType == "" {
		return ErrEventTypeRequired
	}
	if len(r.ChannelIDs) == 0 {
		return ErrNoChannels
	}
	if r.EventType == EventCustom && r.CustomEventID == "" {
		return ErrCustomEventIDRequired
	}
	return nil
}

// MatchesEvent reports whether the rule applies to the event: the custom
// event ID must line up for custom rules, then the condition set must match
// the subject.
func (r *NotificationRule) MatchesEvent(ev *Event) bool {
	if r.EventType != ev.EventType {
		return false
	}
	if r.EventType == EventCustom {
		id, ok := ev.SubjectString("custom_event_id")
		if !ok || id != r.CustomEventID {
			return false
		}
	}
	return r.Conditions.Match(ev.Subject)
}
