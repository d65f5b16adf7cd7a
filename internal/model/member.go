package model

import "time"

type Role string

const (
	RoleGuardian  Role = "guardian"
	RoleDependent Role = "dependent"
)

// Member is a person in a family. Role is fixed at creation; Points is a
// cached total derived from the ledger and recomputed after reconciliation.
type Member struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Age       int       `json:"age"`
	Points    int       `json:"points"`
	Tags      []string  `json:"tags,omitempty"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGuardian reports whether the member holds approval authority.
func (m Member) IsGuardian() bool {
	return m.Role == RoleGuardian
}
