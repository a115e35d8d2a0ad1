// Package jobstatus validates and applies job lifecycle transitions.
// The machine is pure: Apply mutates the job in memory and returns the
// side-effect instructions (notifications, automated messages); the
// repository persists the whole outcome in one transaction, so a failed
// validation leaves no partial writes anywhere.
package jobstatus

import (
	"time"

	"fixwork_backend/internal/models"
	"fixwork_backend/internal/templates"
	"fixwork_backend/pkg/apperrors"
)

// transitions is the legal (current → targets) table.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusOpen:       {models.JobStatusInProgress, models.JobStatusCancelled, models.JobStatusExpired},
	models.JobStatusInProgress: {models.JobStatusCompleted, models.JobStatusCancelled, models.JobStatusDisputed},
	models.JobStatusCompleted:  {models.JobStatusDisputed},
	models.JobStatusCancelled:  {}, // terminal
	models.JobStatusDisputed:   {models.JobStatusInProgress, models.JobStatusCompleted, models.JobStatusCancelled},
	models.JobStatusExpired:    {models.JobStatusOpen},
}

// targetRoles is the permitted-roles set per target status. Ownership
// constraints (creator-only cancel, assigned-fixer-only complete) are
// checked separately in Apply.
var targetRoles = map[models.JobStatus][]models.UserRole{
	models.JobStatusOpen:       {models.UserRoleHirer, models.UserRoleAdmin},
	models.JobStatusInProgress: {models.UserRoleHirer, models.UserRoleAdmin},
	models.JobStatusCompleted:  {models.UserRoleFixer, models.UserRoleAdmin},
	models.JobStatusCancelled:  {models.UserRoleHirer, models.UserRoleAdmin},
	models.JobStatusDisputed:   {models.UserRoleHirer, models.UserRoleFixer, models.UserRoleAdmin},
	models.JobStatusExpired:    {models.UserRoleAdmin},
}

// Actor is the authenticated identity attempting the transition.
type Actor struct {
	ID   string
	Role models.UserRole
}

// Transition describes one requested status change.
type Transition struct {
	Target models.JobStatus
	Reason string
	// AssignFixerID must be set for open → in_progress: the fixer being
	// assigned, who must hold a pending application.
	AssignFixerID string
	Now           time.Time
}

// TriggerType distinguishes the side-effect instructions Apply emits.
type TriggerType string

const (
	TriggerNotify      TriggerType = "notify"
	TriggerAutoMessage TriggerType = "auto_message"
)

// Trigger is one side-effect instruction: either a notification to a
// recipient or an automated system message into the job conversation.
type Trigger struct {
	Type TriggerType

	// TriggerNotify
	RecipientID string
	Kind        string

	// TriggerAutoMessage
	TemplateKey string
	Delay       time.Duration

	Data map[string]string
}

// Outcome is what Apply produced: the in-memory mutations plus the
// application state changes the repository must persist atomically.
type Outcome struct {
	HistoryEntry           models.JobStatusChange
	AcceptedApplicationID  string
	RejectedApplicationIDs []string
	Triggers               []Trigger
}

// autoMessageDelay lets the primary status notification land before the
// automated chat message follows.
const autoMessageDelay = 2 * time.Second

// CanTransition reports whether (current → target) is in the table.
func CanTransition(current, target models.JobStatus) bool {
	for _, t := range transitions[current] {
		if t == target {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal targets from current.
func AllowedTargets(current models.JobStatus) []models.JobStatus {
	return transitions[current]
}

// Apply validates the transition and, if legal, mutates job in memory
// and returns the outcome. On any validation failure the job is
// untouched and the error carries the precise reason.
func Apply(job *models.Job, actor Actor, t Transition, actorName string) (*Outcome, error) {
	if t.Now.IsZero() {
		t.Now = time.Now()
	}

	if !CanTransition(job.Status, t.Target) {
		return nil, apperrors.ErrInvalidTransition(string(job.Status), string(t.Target))
	}
	if err := checkRole(job, actor, t.Target); err != nil {
		return nil, err
	}

	out := &Outcome{}

	// Assignment is part of the open → in_progress transition.
	if job.Status == models.JobStatusOpen && t.Target == models.JobStatusInProgress {
		if t.AssignFixerID == "" {
			return nil, apperrors.ErrInvalidOperation("job", "assigning a fixer requires a fixer id")
		}
		if err := acceptApplication(job, t.AssignFixerID, out); err != nil {
			return nil, err
		}
		job.AssignedTo = &t.AssignFixerID
	}

	from := job.Status
	job.Status = t.Target
	applySideData(job, t)

	out.HistoryEntry = models.JobStatusChange{
		JobID:     job.ID,
		Status:    t.Target,
		ChangedBy: actor.ID,
		Reason:    t.Reason,
	}
	out.Triggers = buildTriggers(job, actor, actorName, from, t)

	return out, nil
}

func checkRole(job *models.Job, actor Actor, target models.JobStatus) error {
	allowed := false
	for _, r := range targetRoles[target] {
		if r == actor.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperrors.ErrForbiddenTransition(string(actor.Role), string(target))
	}
	if actor.Role == models.UserRoleAdmin {
		return nil
	}

	switch target {
	case models.JobStatusCancelled, models.JobStatusInProgress, models.JobStatusOpen:
		// creator-only
		if job.CreatedBy != actor.ID {
			return apperrors.ErrForbiddenTransition(string(actor.Role), string(target))
		}
	case models.JobStatusCompleted:
		// assigned-fixer-only
		if job.AssignedTo == nil || *job.AssignedTo != actor.ID {
			return apperrors.ErrForbiddenTransition(string(actor.Role), string(target))
		}
	case models.JobStatusDisputed:
		party := job.CreatedBy == actor.ID
		if job.AssignedTo != nil && *job.AssignedTo == actor.ID {
			party = true
		}
		if !party {
			return apperrors.ErrForbiddenTransition(string(actor.Role), string(target))
		}
	}
	return nil
}

// acceptApplication marks the assignee's pending application accepted
// and every other pending application rejected.
func acceptApplication(job *models.Job, fixerID string, out *Outcome) error {
	accepted := -1
	for i := range job.Applications {
		app := &job.Applications[i]
		if app.FixerID == fixerID && app.Status == models.ApplicationStatusPending {
			accepted = i
			break
		}
	}
	if accepted == -1 {
		return apperrors.ErrInvalidOperation("job", "fixer has no pending application for this job")
	}

	job.Applications[accepted].Status = models.ApplicationStatusAccepted
	out.AcceptedApplicationID = job.Applications[accepted].ID

	for i := range job.Applications {
		if i == accepted {
			continue
		}
		if job.Applications[i].Status == models.ApplicationStatusPending {
			job.Applications[i].Status = models.ApplicationStatusRejected
			out.RejectedApplicationIDs = append(out.RejectedApplicationIDs, job.Applications[i].ID)
		}
	}
	return nil
}

func applySideData(job *models.Job, t Transition) {
	switch t.Target {
	case models.JobStatusCompleted:
		now := t.Now
		job.CompletedAt = &now
	case models.JobStatusDisputed:
		job.DisputeReason = t.Reason
	case models.JobStatusOpen:
		// relisting after expiry clears completion side data
		job.CompletedAt = nil
	}
}

func buildTriggers(job *models.Job, actor Actor, actorName string, from models.JobStatus, t Transition) []Trigger {
	data := map[string]string{
		"jobTitle":  job.Title,
		"status":    string(t.Target),
		"actorName": actorName,
	}

	var out []Trigger

	notifyOther := func(kind string, extra map[string]string) {
		d := cloneData(data, extra)
		for _, recipient := range otherParties(job, actor.ID) {
			out = append(out, Trigger{Type: TriggerNotify, RecipientID: recipient, Kind: kind, Data: d})
		}
	}

	switch t.Target {
	case models.JobStatusInProgress:
		if from == models.JobStatusOpen {
			// assignment: the accepted fixer gets job_assigned, the chat
			// gets the confirmation immediately and the work-started
			// system message shortly after.
			out = append(out,
				Trigger{Type: TriggerNotify, RecipientID: t.AssignFixerID, Kind: templates.KindJobAssigned,
					Data: cloneData(data, map[string]string{"hirerName": actorName})},
				Trigger{Type: TriggerAutoMessage, TemplateKey: templates.AutoAssignmentConfirmation,
					Data: cloneData(data, map[string]string{"fixerName": t.AssignFixerID})},
				Trigger{Type: TriggerAutoMessage, TemplateKey: templates.AutoWorkStarted, Delay: autoMessageDelay, Data: data},
			)
		} else {
			// resumed from dispute
			notifyOther(templates.KindJobStatusUpdate, nil)
			out = append(out, Trigger{Type: TriggerAutoMessage, TemplateKey: templates.AutoWorkStarted, Delay: autoMessageDelay, Data: data})
		}
	case models.JobStatusCompleted:
		notifyOther(templates.KindJobStatusUpdate, nil)
		out = append(out, Trigger{Type: TriggerAutoMessage, TemplateKey: templates.AutoWorkCompleted, Delay: autoMessageDelay, Data: data})
	case models.JobStatusCancelled:
		notifyOther(templates.KindJobCancelled, nil)
	case models.JobStatusDisputed:
		notifyOther(templates.KindJobDisputed, map[string]string{"reason": t.Reason})
		out = append(out, Trigger{Type: TriggerAutoMessage, TemplateKey: templates.AutoDisputeOpened, Data: data})
	case models.JobStatusExpired:
		out = append(out, Trigger{Type: TriggerNotify, RecipientID: job.CreatedBy, Kind: templates.KindJobStatusUpdate, Data: data})
	case models.JobStatusOpen:
		out = append(out, Trigger{Type: TriggerNotify, RecipientID: job.CreatedBy, Kind: templates.KindJobStatusUpdate, Data: data})
	}

	return out
}

// otherParties returns the job's parties excluding the actor.
func otherParties(job *models.Job, actorID string) []string {
	var out []string
	if job.CreatedBy != actorID {
		out = append(out, job.CreatedBy)
	}
	if job.AssignedTo != nil && *job.AssignedTo != actorID {
		out = append(out, *job.AssignedTo)
	}
	return out
}

func cloneData(base, extra map[string]string) map[string]string {
	d := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		d[k] = v
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}
