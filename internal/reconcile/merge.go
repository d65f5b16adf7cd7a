package reconcile

import "choreboard/internal/model"

// Merging starts from the canonical row and backfills fields the payload
// did not carry from the local copy, so partial schemas during rollout do
// not wipe locally-known data. Fields the remote store owns, status and
// the actor/timestamp group that travels with it, always come from the
// canonical row when present.

func mergeMember(local, canon model.Member) model.Member {
	out := canon
	if out.Name == "" {
		out.Name = local.Name
	}
	if out.Role == "" {
		out.Role = local.Role
	}
	if out.Age == 0 {
		out.Age = local.Age
	}
	if out.Tags == nil {
		out.Tags = local.Tags
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = local.UpdatedAt
	}
	// Points is derived from the local ledger fold, never trusted from a
	// payload.
	out.Points = local.Points
	return out
}

func mergeTemplate(local, canon model.TaskTemplate) model.TaskTemplate {
	out := canon
	if out.Title == "" {
		out.Title = local.Title
	}
	if out.Category == "" {
		out.Category = local.Category
	}
	if out.Difficulty == "" {
		out.Difficulty = local.Difficulty
	}
	if out.Points == 0 {
		out.Points = local.Points
	}
	if out.MinAge == nil {
		out.MinAge = local.MinAge
	}
	if out.MaxAge == nil {
		out.MaxAge = local.MaxAge
	}
	if out.ScheduleType == "" {
		out.ScheduleType = local.ScheduleType
	}
	if out.TimeWindowMinutes == 0 {
		out.TimeWindowMinutes = local.TimeWindowMinutes
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = local.UpdatedAt
	}
	return out
}

func mergeInstance(local, canon model.TaskInstance) model.TaskInstance {
	out := canon
	if out.TemplateID == "" {
		out.TemplateID = local.TemplateID
	}
	if out.AssignedTo == "" {
		out.AssignedTo = local.AssignedTo
	}
	if out.CreatedBy == "" {
		out.CreatedBy = local.CreatedBy
	}
	if out.ScheduleType == "" {
		out.ScheduleType = local.ScheduleType
	}
	if out.Points == 0 {
		out.Points = local.Points
	}
	if out.DueAt.IsZero() {
		out.DueAt = local.DueAt
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = local.UpdatedAt
	}

	// ExpiresAt, once set, is never cleared or extended.
	switch {
	case out.ExpiresAt == nil:
		out.ExpiresAt = local.ExpiresAt
	case local.ExpiresAt != nil && local.ExpiresAt.Before(*out.ExpiresAt):
		out.ExpiresAt = local.ExpiresAt
	}

	// The status group is owned by the remote store and travels together.
	// A payload without a status carries none of the group.
	if out.Status == "" {
		out.Status = local.Status
		out.CompletionRequestedBy = local.CompletionRequestedBy
		out.CompletionRequestedAt = local.CompletionRequestedAt
		out.ApprovedBy = local.ApprovedBy
		out.ApprovedAt = local.ApprovedAt
	}
	return out
}
