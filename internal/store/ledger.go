package store

import (
	"database/sql"
	"fmt"

	"choreboard/internal/model"

	"github.com/google/uuid"
)

// LedgerStore is append-only: entries are inserted and read, never updated
// or deleted.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var taskID sql.NullString

	err := scanner.Scan(&e.ID, &e.FamilyID, &e.MemberID, &e.Delta, &e.Reason, &e.CreatedBy, &taskID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		e.TaskInstanceID = &taskID.String
	}
	return &e, nil
}

const entryCols = `id, family_id, member_id, delta, reason, created_by, task_instance_id, created_at`

func (s *LedgerStore) Append(e model.LedgerEntry) (*model.LedgerEntry, error) {
	id := uuid.NewString()
	var taskID sql.NullString
	if e.TaskInstanceID != nil {
		taskID = sql.NullString{String: *e.TaskInstanceID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO ledger_entries (id, family_id, member_id, delta, reason, created_by, task_instance_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.FamilyID, e.MemberID, e.Delta, e.Reason, e.CreatedBy, taskID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+entryCols+` FROM ledger_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *LedgerStore) ListByFamily(familyID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+entryCols+` FROM ledger_entries WHERE family_id = ? ORDER BY created_at ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *LedgerStore) ListByMember(memberID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+entryCols+` FROM ledger_entries WHERE member_id = ? ORDER BY created_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list member ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// TotalFor folds a member's deltas into their true signed total.
func (s *LedgerStore) TotalFor(memberID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(delta) FROM ledger_entries WHERE member_id = ?`, memberID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return int(total.Int64), nil
}
