package core

import (
	"time"

	"github.com/google/uuid"
)

// Notification categories. Rules derive these from the triggering event
// type; manual notifications pick one explicitly.
const (
	CategoryAlert    = "alert"
	CategoryIncident = "incident"
	CategoryTask     = "task"
	CategoryCustom   = "custom"
	CategoryGeneral  = "general"
	CategorySystem   = "system"
)

// Notification priorities, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// priorityOrder ranks priorities for comparisons (critical-only filtering).
var priorityOrder = map[string]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// NormalizePriority maps a free-form severity/priority string onto one of
// the known priorities, returning "" when it does not match any.
func NormalizePriority(p string) string {
	if _, ok := priorityOrder[p]; ok {
		return p
	}
	return ""
}

// PriorityAtLeast reports whether priority a ranks at or above b.
// Unknown priorities rank as low.
func PriorityAtLeast(a, b string) bool {
	ra, ok := priorityOrder[a]
	if !ok {
		ra = 1
	}
	rb, ok := priorityOrder[b]
	if !ok {
		rb = 1
	}
	return ra >= rb
}

// Notification is a single fired instance of a rule, or a manual message.
// It is immutable after creation except for recipient membership.
// Exactly one of RecipientIDs / CompanyWide must be set.
type Notification struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	RuleID      string    `json:"rule_id,omitempty"` // weak reference, nulled on rule deletion
	RelatedType string    `json:"related_type,omitempty"`
	RelatedID   string    `json:"related_id,omitempty"`
	CompanyWide bool      `json:"company_wide"`
	Recipients  []string  `json:"recipients,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewNotification builds a notification with a generated ID and validated
// recipient targeting.
func NewNotification(tenantID, title, message, category, priority string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Title:     title,
		Message:   message,
		Category:  category,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate enforces the notification invariants.
func (n *Notification) Validate() error {
	if n.ID == "" {
		return ErrIDRequired
	}
	if n.TenantID == "" {
		return ErrTenantRequired
	}
	if n.Title == "" {
		return ErrTitleRequired
	}
	if n.CompanyWide == (len(n.Recipients) > 0) {
		// company-wide and explicit recipients are mutually exclusive,
		// and at least one targeting mode must be chosen
		return ErrRecipientsExclusive
	}
	return nil
}

// IsCritical reports whether the notification carries critical priority.
func (n *Notification) IsCritical() bool {
	return n.Priority == PriorityCritical
}

// Delivery lifecycle states. A row is created pending and transitions to
// exactly one terminal state; read_at is tracked independently.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// DeliveryStatus tracks one (notification, channel, recipient) delivery.
// The triple is unique, which makes repeated scheduling idempotent.
type DeliveryStatus struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	ChannelID      string     `json:"channel_id"`
	RecipientID    string     `json:"recipient_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the delivery reached a final state.
func (d *DeliveryStatus) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}
