// Package channels derives pub/sub channel names from entity identifiers
// and defines the event name constants used on the wire. Everything here
// is pure: no I/O, no state.
package channels

import "strings"

// Event names published over the transport.
const (
	EventNotificationSent     = "notification_sent"
	EventUnreadCountUpdated   = "unread_count_updated"
	EventMessageSent          = "message_sent"
	EventMessageNotification  = "message_notification"
	EventMessagesRead         = "messages_read"
	EventConversationCreated  = "conversation_created"
	EventApplicationSubmitted = "application_submitted"
	EventJobStatusChanged     = "job_status_changed"
	EventTypingStart          = "typing_start"
	EventTypingStop           = "typing_stop"
	EventPresenceEnter        = "presence_enter"
	EventPresenceLeave        = "presence_leave"
	EventPresenceUpdate       = "presence_update"
)

// UserNotifications is the per-user channel carrying notifications,
// unread counts and conversation-level events for one user.
func UserNotifications(userID string) string {
	return "user:" + userID + ":notifications"
}

// Conversation derives the two-party chat channel. The pair is sorted so
// both participants resolve the same name regardless of argument order.
func Conversation(a, b string) string {
	return "conversation:" + PairKey(a, b)
}

// Job is the channel for job-scoped events (status changes, applications).
func Job(jobID string) string {
	return "job:" + jobID
}

// Skill is the fan-out channel for fixers subscribed to a skill.
func Skill(slug string) string {
	return "skill:" + slugify(slug)
}

// Locality is the fan-out channel for a geographic area.
func Locality(slug string) string {
	return "locality:" + slugify(slug)
}

// PairKey returns the canonical key for an unordered id pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
