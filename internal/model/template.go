package model

import "time"

type ScheduleType string

const (
	ScheduleOneTime        ScheduleType = "one_time"
	ScheduleRecurringDaily ScheduleType = "recurring_daily"
	ScheduleTimeSensitive  ScheduleType = "time_sensitive"
)

// TaskTemplate describes a kind of task that instances are stamped from.
// Templates are never deleted, only archived, so instances created from them
// keep a valid reference.
type TaskTemplate struct {
	ID                string       `json:"id"`
	FamilyID          string       `json:"family_id"`
	Title             string       `json:"title"`
	Category          string       `json:"category"`
	Points            int          `json:"points"`
	Difficulty        string       `json:"difficulty"`
	MinAge            *int         `json:"min_age,omitempty"`
	MaxAge            *int         `json:"max_age,omitempty"`
	ScheduleType      ScheduleType `json:"schedule_type"`
	TimeWindowMinutes int          `json:"time_window_minutes,omitempty"`
	Enabled           bool         `json:"enabled"`
	Archived          bool         `json:"archived"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// EligibleFor reports whether a member's age falls inside the template's age
// range. A nil bound is open.
func (t TaskTemplate) EligibleFor(age int) bool {
	if t.MinAge != nil && age < *t.MinAge {
		return false
	}
	if t.MaxAge != nil && age > *t.MaxAge {
		return false
	}
	return true
}
