package store

import (
	"database/sql"
	"fmt"
	"time"

	"choreboard/internal/model"

	"github.com/google/uuid"
)

type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func scanInstance(scanner interface{ Scan(...any) error }) (*model.TaskInstance, error) {
	var i model.TaskInstance
	var expiresAt, completionAt, approvedAt sql.NullTime

	err := scanner.Scan(
		&i.ID, &i.FamilyID, &i.TemplateID, &i.AssignedTo, &i.CreatedBy,
		&i.Status, &i.ScheduleType, &i.Points, &i.DueAt, &expiresAt,
		&i.CompletionRequestedBy, &completionAt, &i.ApprovedBy, &approvedAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		i.ExpiresAt = &expiresAt.Time
	}
	if completionAt.Valid {
		i.CompletionRequestedAt = &completionAt.Time
	}
	if approvedAt.Valid {
		i.ApprovedAt = &approvedAt.Time
	}
	return &i, nil
}

const instanceCols = `id, family_id, template_id, assigned_to, created_by, status, schedule_type, points, due_at, expires_at, completion_requested_by, completion_requested_at, approved_by, approved_at, created_at, updated_at`

func (s *InstanceStore) Create(i model.TaskInstance) (*model.TaskInstance, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO task_instances (id, family_id, template_id, assigned_to, created_by, status, schedule_type, points, due_at, expires_at, completion_requested_by, completion_requested_at, approved_by, approved_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, i.FamilyID, i.TemplateID, i.AssignedTo, i.CreatedBy,
		normalizeStatus(i.Status), i.ScheduleType, i.Points, i.DueAt.UTC(), nullTime(i.ExpiresAt),
		i.CompletionRequestedBy, nullTime(i.CompletionRequestedAt), i.ApprovedBy, nullTime(i.ApprovedAt),
		i.CreatedAt.UTC(), i.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	return s.GetByID(id)
}

func (s *InstanceStore) GetByID(id string) (*model.TaskInstance, error) {
	row := s.db.QueryRow(`SELECT `+instanceCols+` FROM task_instances WHERE id = ?`, id)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return i, nil
}

func (s *InstanceStore) ListByFamily(familyID string) ([]model.TaskInstance, error) {
	rows, err := s.db.Query(
		`SELECT `+instanceCols+` FROM task_instances WHERE family_id = ? ORDER BY due_at ASC, created_at ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.TaskInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *i)
	}
	return instances, rows.Err()
}

// UpdateStatusIf commits a transition only while the stored status still
// equals expect. This compare-and-set is the single concurrency mechanism
// that keeps racing devices from double-committing a transition. The
// current canonical row is returned either way.
func (s *InstanceStore) UpdateStatusIf(id string, expect model.Status, i model.TaskInstance) (bool, *model.TaskInstance, error) {
	res, err := s.db.Exec(
		`UPDATE task_instances SET status = ?, completion_requested_by = ?, completion_requested_at = ?, approved_by = ?, approved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		normalizeStatus(i.Status), i.CompletionRequestedBy, nullTime(i.CompletionRequestedAt),
		i.ApprovedBy, nullTime(i.ApprovedAt), time.Now().UTC(),
		id, normalizeStatus(expect),
	)
	if err != nil {
		return false, nil, fmt.Errorf("conditional status update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected: %w", err)
	}

	cur, err := s.GetByID(id)
	if err != nil {
		return false, nil, err
	}
	if cur == nil {
		return false, nil, fmt.Errorf("instance %s not found", id)
	}
	return n > 0, cur, nil
}

// normalizeStatus maps the legacy rejected label to open before it reaches
// the table; the schema only knows the engine's states.
func normalizeStatus(st model.Status) model.Status {
	if st == model.StatusRejected {
		return model.StatusOpen
	}
	return st
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
