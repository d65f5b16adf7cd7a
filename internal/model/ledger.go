package model

import "time"

// LedgerEntry is one signed point delta for a member. Entries are append-only
// and never updated or deleted; a member's point total is the fold of their
// deltas.
type LedgerEntry struct {
	ID             string    `json:"id"`
	FamilyID       string    `json:"family_id"`
	MemberID       string    `json:"member_id"`
	Delta          int       `json:"delta"`
	Reason         string    `json:"reason"`
	CreatedBy      string    `json:"created_by"`
	TaskInstanceID *string   `json:"task_instance_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
