package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditions_Match(t *testing.T) {
	tests := []struct {
		name       string
		conditions Conditions
		subject    map[string]interface{}
		want       bool
	}{
		{
			name:       "empty conditions always match",
			conditions: Conditions{},
			subject:    map[string]interface{}{"severity": "low"},
			want:       true,
		},
		{
			name:       "nil conditions always match",
			conditions: nil,
			subject:    nil,
			want:       true,
		},
		{
			name:       "single equality match",
			conditions: Conditions{"severity": "critical"},
			subject:    map[string]interface{}{"severity": "critical"},
			want:       true,
		},
		{
			name:       "value mismatch",
			conditions: Conditions{"severity": "critical"},
			subject:    map[string]interface{}{"severity": "low"},
			want:       false,
		},
		{
			name:       "missing field fails closed",
			conditions: Conditions{"severity": "critical"},
			subject:    map[string]interface{}{"status": "open"},
			want:       false,
		},
		{
			name:       "nil field value fails closed",
			conditions: Conditions{"severity": "critical"},
			subject:    map[string]interface{}{"severity": nil},
			want:       false,
		},
		{
			name:       "nil subject fails closed",
			conditions: Conditions{"severity": "critical"},
			subject:    nil,
			want:       false,
		},
		{
			name:       "non-string values compared by string form",
			conditions: Conditions{"count": "3", "escalated": "true"},
			subject:    map[string]interface{}{"count": 3, "escalated": true},
			want:       true,
		},
		{
			name:       "all conditions must hold",
			conditions: Conditions{"severity": "critical", "status": "open"},
			subject:    map[string]interface{}{"severity": "critical", "status": "closed"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conditions.Match(tt.subject))
		})
	}
}

func TestNotificationRule_Validate(t *testing.T) {
	valid := NotificationRule{
		ID: "r1", TenantID: "t1", Name: "rule", EventType: EventAlertCreated,
		ChannelIDs: []string{"c1"},
	}
	assert.NoError(t, valid.Validate())

	noChannels := valid
	noChannels.ChannelIDs = nil
	assert.ErrorIs(t, noChannels.Validate(), ErrNoChannels)

	customWithoutID := valid
	customWithoutID.EventType = EventCustom
	assert.ErrorIs(t, customWithoutID.Validate(), ErrCustomEventIDRequired)

	customWithID := customWithoutID
	customWithID.CustomEventID = "deploy-finished"
	assert.NoError(t, customWithID.Validate())
}

func TestNotificationRule_MatchesEvent(t *testing.T) {
	rule := NotificationRule{
		ID: "r1", TenantID: "t1", Name: "rule", EventType: EventAlertCreated,
		Conditions: Conditions{"severity": "critical"},
		ChannelIDs: []string{"c1"},
	}

	match := &Event{EventType: EventAlertCreated, TenantID: "t1",
		Subject: map[string]interface{}{"severity": "critical"}}
	assert.True(t, rule.MatchesEvent(match))

	wrongType := &Event{EventType: EventTaskCompleted, TenantID: "t1",
		Subject: map[string]interface{}{"severity": "critical"}}
	assert.False(t, rule.MatchesEvent(wrongType))

	noMatch := &Event{EventType: EventAlertCreated, TenantID: "t1",
		Subject: map[string]interface{}{"severity": "low"}}
	assert.False(t, rule.MatchesEvent(noMatch))
}

func TestNotificationRule_MatchesEvent_Custom(t *testing.T) {
	rule := NotificationRule{
		ID: "r1", TenantID: "t1", Name: "rule", EventType: EventCustom,
		CustomEventID: "deploy-finished",
		ChannelIDs:    []string{"c1"},
	}

	match := &Event{EventType: EventCustom, TenantID: "t1",
		Subject: map[string]interface{}{"custom_event_id": "deploy-finished"}}
	assert.True(t, rule.MatchesEvent(match))

	otherID := &Event{EventType: EventCustom, TenantID: "t1",
		Subject: map[string]interface{}{"custom_event_id": "other"}}
	assert.False(t, rule.MatchesEvent(otherID))

	missingID := &Event{EventType: EventCustom, TenantID: "t1",
		Subject: map[string]interface{}{}}
	assert.False(t, rule.MatchesEvent(missingID))
}
