package store

import (
	"database/sql"
	"fmt"
	"time"

	"choreboard/internal/model"

	"github.com/google/uuid"
)

type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func scanTemplate(scanner interface{ Scan(...any) error }) (*model.TaskTemplate, error) {
	var t model.TaskTemplate
	var minAge, maxAge sql.NullInt64
	var enabled, archived int

	err := scanner.Scan(
		&t.ID, &t.FamilyID, &t.Title, &t.Category, &t.Points, &t.Difficulty,
		&minAge, &maxAge, &t.ScheduleType, &t.TimeWindowMinutes,
		&enabled, &archived, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if minAge.Valid {
		v := int(minAge.Int64)
		t.MinAge = &v
	}
	if maxAge.Valid {
		v := int(maxAge.Int64)
		t.MaxAge = &v
	}
	t.Enabled = enabled != 0
	t.Archived = archived != 0
	return &t, nil
}

const templateCols = `id, family_id, title, category, points, difficulty, min_age, max_age, schedule_type, time_window_minutes, enabled, archived, created_at, updated_at`

func (s *TemplateStore) Create(t model.TaskTemplate) (*model.TaskTemplate, error) {
	id := uuid.NewString()
	var minAge, maxAge sql.NullInt64
	if t.MinAge != nil {
		minAge = sql.NullInt64{Int64: int64(*t.MinAge), Valid: true}
	}
	if t.MaxAge != nil {
		maxAge = sql.NullInt64{Int64: int64(*t.MaxAge), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO task_templates (id, family_id, title, category, points, difficulty, min_age, max_age, schedule_type, time_window_minutes, enabled, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id, t.FamilyID, t.Title, t.Category, t.Points, t.Difficulty,
		minAge, maxAge, t.ScheduleType, t.TimeWindowMinutes, boolToInt(t.Enabled),
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	return s.GetByID(id)
}

func (s *TemplateStore) GetByID(id string) (*model.TaskTemplate, error) {
	row := s.db.QueryRow(`SELECT `+templateCols+` FROM task_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) ListByFamily(familyID string) ([]model.TaskTemplate, error) {
	rows, err := s.db.Query(
		`SELECT `+templateCols+` FROM task_templates WHERE family_id = ? ORDER BY archived ASC, title ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []model.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (s *TemplateStore) Update(t model.TaskTemplate) (*model.TaskTemplate, error) {
	var minAge, maxAge sql.NullInt64
	if t.MinAge != nil {
		minAge = sql.NullInt64{Int64: int64(*t.MinAge), Valid: true}
	}
	if t.MaxAge != nil {
		maxAge = sql.NullInt64{Int64: int64(*t.MaxAge), Valid: true}
	}

	_, err := s.db.Exec(
		`UPDATE task_templates SET title = ?, category = ?, points = ?, difficulty = ?, min_age = ?, max_age = ?, schedule_type = ?, time_window_minutes = ?, enabled = ?, archived = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Category, t.Points, t.Difficulty, minAge, maxAge,
		t.ScheduleType, t.TimeWindowMinutes, boolToInt(t.Enabled), boolToInt(t.Archived),
		time.Now().UTC(), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return s.GetByID(t.ID)
}

// Archive soft-deletes a template. There is no hard delete: instances refer
// back to their template for history.
func (s *TemplateStore) Archive(id string) (*model.TaskTemplate, error) {
	_, err := s.db.Exec(
		`UPDATE task_templates SET archived = 1, enabled = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("archive template: %w", err)
	}
	return s.GetByID(id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
