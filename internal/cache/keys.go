package cache

import "fmt"

// Key builders. Per-user keys share a prefix so a write can invalidate
// every cached view for that user with one DelPrefix call.

const (
	NotificationPagesTTLSeconds   = 60
	ConversationSummaryTTLSeconds = 120
	UnreadCountTTLSeconds         = 30
)

func NotificationPagesPrefix(userID string) string {
	return fmt.Sprintf("notifications:%s:", userID)
}

// NotificationPageKey is the composite key for one cached page of a
// user's notification list. Filters are part of the key.
func NotificationPageKey(userID string, limit, offset int, category string, unreadOnly bool) string {
	return fmt.Sprintf("%sl%d:o%d:c%s:u%t", NotificationPagesPrefix(userID), limit, offset, category, unreadOnly)
}

func ConversationSummariesPrefix(userID string) string {
	return fmt.Sprintf("conversations:%s:", userID)
}

func ConversationSummariesKey(userID string, limit int) string {
	return fmt.Sprintf("%sl%d", ConversationSummariesPrefix(userID), limit)
}

func UnreadCountKey(userID string) string {
	return fmt.Sprintf("unread:%s", userID)
}

func RateLimitKey(action, actorID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, actorID)
}
