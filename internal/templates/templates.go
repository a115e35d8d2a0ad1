// Package templates maps notification and system-message kinds to their
// title/body templates, category and priority. The registry is typed:
// each descriptor declares the data fields it needs, and Render fails on
// a missing field instead of emitting a half-substituted string.
// ValidateRegistry is run at startup so a malformed descriptor is a boot
// failure, not a runtime surprise.
package templates

import (
	"fmt"
	"regexp"
	"strings"

	"fixwork_backend/internal/models"
)

// Notification kinds.
const (
	KindJobAssigned          = "job_assigned"
	KindJobStatusUpdate      = "job_status_update"
	KindJobCancelled         = "job_cancelled"
	KindJobDisputed          = "job_disputed"
	KindApplicationSubmitted = "application_submitted"
	KindApplicationAccepted  = "application_accepted"
	KindApplicationRejected  = "application_rejected"
	KindNewMessage           = "new_message"
	KindPaymentReminder      = "payment_reminder"
	KindDeadlineReminder     = "deadline_reminder"
	KindSystemAnnouncement   = "system_announcement"
)

// Automated system-message kinds (rendered into conversations).
const (
	AutoAssignmentConfirmation = "auto_assignment_confirmation"
	AutoWorkStarted            = "auto_work_started"
	AutoWorkCompleted          = "auto_work_completed"
	AutoDisputeOpened          = "auto_dispute_opened"
	AutoDeadlineReminder       = "auto_deadline_reminder"
	AutoPaymentReminder        = "auto_payment_reminder"
)

// Descriptor is one template entry. Placeholders in Title/Body use
// {field} syntax and must all appear in RequiredFields.
type Descriptor struct {
	Title          string
	Body           string
	Category       models.NotificationCategory
	Priority       models.NotificationPriority
	RequiredFields []string
	// FreeText marks kinds whose body is caller-supplied and must pass
	// the content validator before anything is persisted.
	FreeText bool
}

var registry = map[string]Descriptor{
	KindJobAssigned: {
		Title:          "You got the job!",
		Body:           "{hirerName} assigned you to \"{jobTitle}\". Open the conversation to get started.",
		Category:       models.CategoryJob,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"hirerName", "jobTitle"},
	},
	KindJobStatusUpdate: {
		Title:          "Job status updated",
		Body:           "\"{jobTitle}\" is now {status}.",
		Category:       models.CategoryJob,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"jobTitle", "status"},
	},
	KindJobCancelled: {
		Title:          "Job cancelled",
		Body:           "\"{jobTitle}\" was cancelled by {actorName}.",
		Category:       models.CategoryJob,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle", "actorName"},
	},
	KindJobDisputed: {
		Title:          "Dispute opened",
		Body:           "A dispute was opened on \"{jobTitle}\": {reason}",
		Category:       models.CategoryJob,
		Priority:       models.PriorityCritical,
		RequiredFields: []string{"jobTitle", "reason"},
	},
	KindApplicationSubmitted: {
		Title:          "New application",
		Body:           "{fixerName} applied to \"{jobTitle}\".",
		Category:       models.CategoryApplication,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"fixerName", "jobTitle"},
	},
	KindApplicationAccepted: {
		Title:          "Application accepted",
		Body:           "Your application to \"{jobTitle}\" was accepted.",
		Category:       models.CategoryApplication,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle"},
	},
	KindApplicationRejected: {
		Title:          "Application update",
		Body:           "Your application to \"{jobTitle}\" was not selected this time.",
		Category:       models.CategoryApplication,
		Priority:       models.PriorityLow,
		RequiredFields: []string{"jobTitle"},
	},
	KindNewMessage: {
		Title:          "New message from {senderName}",
		Body:           "{preview}",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"senderName", "preview"},
	},
	KindPaymentReminder: {
		Title:          "Payment due",
		Body:           "Payment for \"{jobTitle}\" is still outstanding.",
		Category:       models.CategoryPayment,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle"},
	},
	KindDeadlineReminder: {
		Title:          "Deadline approaching",
		Body:           "\"{jobTitle}\" is due {deadline}.",
		Category:       models.CategoryJob,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle", "deadline"},
	},
	KindSystemAnnouncement: {
		Title:          "{title}",
		Body:           "{body}",
		Category:       models.CategorySystem,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"title", "body"},
		FreeText:       true,
	},

	AutoAssignmentConfirmation: {
		Title:          "",
		Body:           "You're connected! {fixerName} has been assigned to \"{jobTitle}\". Use this chat to agree on the details.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"fixerName", "jobTitle"},
	},
	AutoWorkStarted: {
		Title:          "",
		Body:           "Work on \"{jobTitle}\" has started.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"jobTitle"},
	},
	AutoWorkCompleted: {
		Title:          "",
		Body:           "\"{jobTitle}\" has been marked completed. Hirer, please review the work and release payment.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityNormal,
		RequiredFields: []string{"jobTitle"},
	},
	AutoDisputeOpened: {
		Title:          "",
		Body:           "A dispute has been opened on \"{jobTitle}\". Support will review this conversation.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityCritical,
		RequiredFields: []string{"jobTitle"},
	},
	AutoDeadlineReminder: {
		Title:          "",
		Body:           "Reminder: \"{jobTitle}\" is due {deadline}.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle", "deadline"},
	},
	AutoPaymentReminder: {
		Title:          "",
		Body:           "Reminder: payment for \"{jobTitle}\" is still outstanding.",
		Category:       models.CategoryMessage,
		Priority:       models.PriorityHigh,
		RequiredFields: []string{"jobTitle"},
	},
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9]*)\}`)

// Lookup returns the descriptor for kind.
func Lookup(kind string) (Descriptor, error) {
	d, ok := registry[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown template kind %q", kind)
	}
	return d, nil
}

// Known reports whether kind is registered.
func Known(kind string) bool {
	_, ok := registry[kind]
	return ok
}

// Render substitutes data into the kind's templates. Every required
// field must be present in data.
func Render(kind string, data map[string]string) (title, body string, err error) {
	d, err := Lookup(kind)
	if err != nil {
		return "", "", err
	}
	for _, field := range d.RequiredFields {
		if _, ok := data[field]; !ok {
			return "", "", fmt.Errorf("template %q: missing required field %q", kind, field)
		}
	}
	return substitute(d.Title, data), substitute(d.Body, data), nil
}

func substitute(tmpl string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := strings.Trim(m, "{}")
		if v, ok := data[field]; ok {
			return v
		}
		return m
	})
}

// ValidateRegistry checks every descriptor at startup: each placeholder
// used in a template must be declared as a required field.
func ValidateRegistry() error {
	for kind, d := range registry {
		declared := make(map[string]bool, len(d.RequiredFields))
		for _, f := range d.RequiredFields {
			declared[f] = true
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(d.Title+" "+d.Body, -1) {
			if !declared[m[1]] {
				return fmt.Errorf("template %q uses undeclared placeholder %q", kind, m[1])
			}
		}
		if d.Priority == "" || d.Category == "" {
			return fmt.Errorf("template %q missing priority or category", kind)
		}
	}
	return nil
}
