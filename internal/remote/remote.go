// Package remote defines the contract with the authoritative family store.
// The remote store owns the canonical value of every entity; devices mirror
// optimistic writes into it and fold its change feed back into their local
// projection.
package remote

import (
	"context"

	"choreboard/internal/model"
)

// ChangeEvent is one canonical change delivered by the push channel or by a
// mutation's own response. Exactly one entity pointer is set, matching Kind.
type ChangeEvent struct {
	Op       model.ChangeOp      `json:"op"`
	Kind     model.EntityKind    `json:"kind"`
	Member   *model.Member       `json:"member,omitempty"`
	Template *model.TaskTemplate `json:"template,omitempty"`
	Instance *model.TaskInstance `json:"instance,omitempty"`
	Entry    *model.LedgerEntry  `json:"entry,omitempty"`
}

// EntityID returns the id of whichever entity the event carries.
func (e ChangeEvent) EntityID() string {
	switch {
	case e.Member != nil:
		return e.Member.ID
	case e.Template != nil:
		return e.Template.ID
	case e.Instance != nil:
		return e.Instance.ID
	case e.Entry != nil:
		return e.Entry.ID
	}
	return ""
}

// Family is the canonical family snapshot returned by a full read.
type Family struct {
	Members   []model.Member       `json:"members"`
	Templates []model.TaskTemplate `json:"templates"`
	Instances []model.TaskInstance `json:"instances"`
	Ledger    []model.LedgerEntry  `json:"ledger"`
}

// Service is the remote document store. Inserts return the canonical row
// with its remote-assigned identifier. UpdateInstanceStatusIf is a
// compare-and-set: the update commits only while the stored status still
// equals expect; either way the canonical row comes back so the caller can
// reconcile.
type Service interface {
	Fetch(ctx context.Context, familyID string) (Family, error)

	InsertMember(ctx context.Context, m model.Member) (model.Member, error)
	UpdateMember(ctx context.Context, m model.Member) (model.Member, error)

	InsertTemplate(ctx context.Context, t model.TaskTemplate) (model.TaskTemplate, error)
	UpdateTemplate(ctx context.Context, t model.TaskTemplate) (model.TaskTemplate, error)

	InsertInstance(ctx context.Context, i model.TaskInstance) (model.TaskInstance, error)
	UpdateInstanceStatusIf(ctx context.Context, expect model.Status, i model.TaskInstance) (bool, model.TaskInstance, error)

	AppendLedger(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error)

	Subscribe(ctx context.Context, familyID string) (<-chan ChangeEvent, error)
}
