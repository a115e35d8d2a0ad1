// Package moderation screens free-text content before it is persisted or
// broadcast. The engine consumes it as a collaborator: a violation turns
// into a ContentRejected result upstream, with nothing written.
package moderation

import (
	"regexp"
	"strings"
)

// Context tells the validator where the text is headed.
type Context string

const (
	ContextChatMessage  Context = "chat_message"
	ContextNotification Context = "notification"
)

type Result struct {
	IsValid    bool
	Violations []string
}

type Validator interface {
	Validate(text string, ctx Context, actorID string) Result
}

// RuleValidator is the default implementation: banned phrases plus a
// contact-information screen for pre-assignment chat. Participants must
// not trade contact details before a job is assigned; the system message
// created at assignment is the moment contact info legitimately crosses
// into chat.
type RuleValidator struct {
	bannedPhrases     []string
	screenContactInfo bool
}

var (
	phoneRe = regexp.MustCompile(`(\+?\d[\d\s\-()]{8,}\d)`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

func NewRuleValidator(bannedPhrases []string, screenContactInfo bool) *RuleValidator {
	return &RuleValidator{
		bannedPhrases:     bannedPhrases,
		screenContactInfo: screenContactInfo,
	}
}

func (v *RuleValidator) Validate(text string, ctx Context, actorID string) Result {
	var violations []string

	lower := strings.ToLower(text)
	for _, phrase := range v.bannedPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			violations = append(violations, "banned phrase: "+phrase)
		}
	}

	if v.screenContactInfo && ctx == ContextChatMessage {
		if phoneRe.MatchString(text) {
			violations = append(violations, "phone number in message")
		}
		if emailRe.MatchString(text) {
			violations = append(violations, "email address in message")
		}
	}

	return Result{IsValid: len(violations) == 0, Violations: violations}
}

// AllowAll is used in tests and for trusted system-generated content.
type AllowAll struct{}

func (AllowAll) Validate(string, Context, string) Result {
	return Result{IsValid: true}
}
