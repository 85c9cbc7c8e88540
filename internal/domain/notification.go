package domain

import "time"

// ChannelKind is a concrete configured notification transport.
type ChannelKind string

const (
	ChannelEmail     ChannelKind = "email"
	ChannelSlack     ChannelKind = "slack"
	ChannelDiscord   ChannelKind = "discord"
	ChannelWebhook   ChannelKind = "webhook"
	ChannelPagerDuty ChannelKind = "pagerduty"
)

// ChannelCategory groups channel kinds for routing: a notification addressed
// to the "slack" category reaches both slack and discord channels, and the
// "webhook" category reaches webhook and pagerduty channels.
type ChannelCategory string

const (
	CategoryEmail   ChannelCategory = "email"
	CategorySlack   ChannelCategory = "slack"
	CategoryWebhook ChannelCategory = "webhook"
)

// Category returns the routing category for the channel kind.
func (k ChannelKind) Category() ChannelCategory {
	switch k {
	case ChannelSlack, ChannelDiscord:
		return CategorySlack
	case ChannelWebhook, ChannelPagerDuty:
		return CategoryWebhook
	default:
		return CategoryEmail
	}
}

// ValidChannelKind reports whether k is a known channel kind.
func ValidChannelKind(k ChannelKind) bool {
	switch k {
	case ChannelEmail, ChannelSlack, ChannelDiscord, ChannelWebhook, ChannelPagerDuty:
		return true
	}
	return false
}

// NotificationChannel is a configured delivery target for a project.
type NotificationChannel struct {
	ID        string
	ProjectID string
	Kind      ChannelKind
	// Target is kind-specific: webhook/slack/discord/pagerduty URLs or an
	// email recipient address.
	Target    string
	Enabled   bool
	CreatedAt time.Time
}
