package core

import "time"

// NotificationPreferences is the one-to-one per-user preference row:
// per-category, per-channel opt-ins plus critical-only flags for the noisy
// channels and digest flags. Rows are created lazily; a user with no row
// gets DefaultPreferences.
type NotificationPreferences struct {
	UserID string `json:"user_id"`

	// Enabled maps category -> channel type -> opt-in. Missing entries
	// fall back to the channel's default.
	Enabled map[string]map[ChannelType]bool `json:"enabled"`

	// Critical-only flags suppress non-critical notifications on noisy
	// channels even when the category is opted in.
	MattermostCriticalOnly bool `json:"mattermost_critical_only"`
	SMSCriticalOnly        bool `json:"sms_critical_only"`

	DailyDigest  bool `json:"daily_digest"`
	WeeklyDigest bool `json:"weekly_digest"`

	UpdatedAt time.Time `json:"updated_at"`
}

// channelDefaults are the opt-in defaults applied when a user has no
// stored preference: email and in-app on, chat and SMS off.
var channelDefaults = map[ChannelType]bool{
	ChannelEmail:      true,
	ChannelInApp:      true,
	ChannelSlack:      false,
	ChannelMattermost: false,
	ChannelWebhook:    true,
	ChannelSMS:        false,
}

// DefaultPreferences returns the documented safe defaults for a user with
// no stored preference row.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:  userID,
		Enabled: map[string]map[ChannelType]bool{},
	}
}

// OptedIn reports whether the user accepts this category on this channel,
// falling back to channel defaults for categories or channels the user
// never configured.
func (p *NotificationPreferences) OptedIn(category string, channel ChannelType) bool {
	if byChannel, ok := p.Enabled[category]; ok {
		if v, ok := byChannel[channel]; ok {
			return v
		}
	}
	return channelDefaults[channel]
}

// Allows applies the full preference filter: category/channel opt-in plus
// critical-only suppression. The returned reason explains a false result.
func (p *NotificationPreferences) Allows(category string, channel ChannelType, priority string) (bool, string) {
	if !p.OptedIn(category, channel) {
		return false, "user opted out of " + category + " notifications on " + string(channel)
	}
	if priority != PriorityCritical {
		if channel == ChannelMattermost && p.MattermostCriticalOnly {
			return false, "user receives only critical notifications on mattermost"
		}
		if channel == ChannelSMS && p.SMSCriticalOnly {
			return false, "user receives only critical notifications on sms"
		}
	}
	return true, ""
}

// SetOptIn records an explicit per-category, per-channel choice.
func (p *NotificationPreferences) SetOptIn(category string, channel ChannelType, enabled bool) {
	if p.Enabled == nil {
		p.Enabled = map[string]map[ChannelType]bool{}
	}
	if p.Enabled[category] == nil {
		p.Enabled[category] = map[ChannelType]bool{}
	}
	p.Enabled[category][channel] = enabled
}
