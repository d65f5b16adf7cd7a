package model

import "time"

type Status string

const (
	StatusOpen            Status = "open"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusExpired         Status = "expired"

	// StatusRejected is a legacy label some clients still send. The engine
	// has no terminal rejected state; ingestion normalizes it to open.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusExpired
}

// TaskInstance is one assignment of a template to a member. ScheduleType is
// copied from the template at creation and not re-derived afterward.
// ExpiresAt, once set, is never cleared or extended.
type TaskInstance struct {
	ID                    string       `json:"id"`
	FamilyID              string       `json:"family_id"`
	TemplateID            string       `json:"template_id"`
	AssignedTo            string       `json:"assigned_to"`
	CreatedBy             string       `json:"created_by"`
	Status                Status       `json:"status"`
	ScheduleType          ScheduleType `json:"schedule_type"`
	Points                int          `json:"points"`
	DueAt                 time.Time    `json:"due_at"`
	ExpiresAt             *time.Time   `json:"expires_at,omitempty"`
	CompletionRequestedBy string       `json:"completion_requested_by,omitempty"`
	CompletionRequestedAt *time.Time   `json:"completion_requested_at,omitempty"`
	ApprovedBy            string       `json:"approved_by,omitempty"`
	ApprovedAt            *time.Time   `json:"approved_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}
