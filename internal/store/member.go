package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"choreboard/internal/model"

	"github.com/google/uuid"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	var tags string
	var pin string

	err := scanner.Scan(&m.ID, &m.FamilyID, &m.Name, &m.Role, &m.Age, &tags, &pin, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	m.HasPIN = pin != ""
	return &m, nil
}

const memberCols = `id, family_id, name, role, age, tags, pin, created_at, updated_at`

func (s *MemberStore) Create(familyID, name string, role model.Role, age int, tags []string) (*model.Member, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO members (id, family_id, name, role, age, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		id, familyID, name, role, age, strings.Join(tags, ","),
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) GetByID(id string) (*model.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) ListByFamily(familyID string) ([]model.Member, error) {
	rows, err := s.db.Query(
		`SELECT `+memberCols+` FROM members WHERE family_id = ? ORDER BY created_at ASC, name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// Update changes mutable member fields. Role is immutable after creation.
func (s *MemberStore) Update(id, name string, age int, tags []string) (*model.Member, error) {
	_, err := s.db.Exec(
		`UPDATE members SET name = ?, age = ?, tags = ?, updated_at = ? WHERE id = ?`,
		name, age, strings.Join(tags, ","), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) SetPIN(id, hashedPIN string) error {
	_, err := s.db.Exec(`UPDATE members SET pin = ? WHERE id = ?`, hashedPIN, id)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

func (s *MemberStore) ClearPIN(id string) error {
	_, err := s.db.Exec(`UPDATE members SET pin = '' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	return nil
}

func (s *MemberStore) GetPINHash(id string) (string, error) {
	var pin string
	err := s.db.QueryRow(`SELECT pin FROM members WHERE id = ?`, id).Scan(&pin)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pin hash: %w", err)
	}
	return pin, nil
}
