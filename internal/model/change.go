package model

// EntityKind names one of the synchronized collections.
type EntityKind string

const (
	KindMember      EntityKind = "member"
	KindTemplate    EntityKind = "task_template"
	KindInstance    EntityKind = "task_instance"
	KindLedgerEntry EntityKind = "ledger_entry"
)

// ChangeOp is the operation carried by a canonical change event.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)
