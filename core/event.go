package core

import "fmt"

// Well-known event types published by the platform's domain entities.
// The engine is indifferent to which entity produced an event; these
// constants only exist so rules and producers agree on spelling.
const (
	EventAlertCreated    = "alert_created"
	EventAlertEscalated  = "alert_escalated"
	EventIncidentCreated = "incident_created"
	EventIncidentClosed  = "incident_closed"
	EventTaskAssigned    = "task_assigned"
	EventTaskCompleted   = "task_completed"
	EventCustom          = "custom"
)

// Event is the inbound contract between domain entities and the rule
// engine. Subject is an attribute bag describing the entity that changed;
// the engine reads it reflectively and never mutates it.
type Event struct {
	EventType string                 `json:"event_type"`
	TenantID  string                 `json:"tenant_id"`
	Subject   map[string]interface{} `json:"subject"`
}

// Validate checks the minimal event contract.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return ErrEventTypeRequired
	}
	if e.TenantID == "" {
		return ErrTenantRequired
	}
	return nil
}

// SubjectString returns the string form of a subject attribute and whether
// the attribute is present. Nil values count as absent.
func (e *Event) SubjectString(field string) (string, bool) {
	if e.Subject == nil {
		return "", false
	}
	v, ok := e.Subject[field]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// CategoryForEventType derives a notification category from an event type.
// Event types follow the "<entity>_<verb>" convention; the entity prefix
// becomes the category.
func CategoryForEventType(eventType string) string {
	switch {
	case eventType == EventCustom:
		return CategoryCustom
	case hasPrefix(eventType, "alert_"):
		return CategoryAlert
	case hasPrefix(eventType, "incident_"):
		return CategoryIncident
	case hasPrefix(eventType, "task_"):
		return CategoryTask
	default:
		return CategoryGeneral
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// PriorityForSubject derives a notification priority from the subject's
// own severity or priority attribute, defaulting to medium.
func PriorityForSubject(subject map[string]interface{}) string {
	for _, field := range []string{"severity", "priority"} {
		if v, ok := subject[field]; ok && v != nil {
			if p := NormalizePriority(fmt.Sprint(v)); p != "" {
				return p
			}
		}
	}
	return PriorityMedium
}
