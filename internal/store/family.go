package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Family struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func (s *FamilyStore) Create(name, timezone string) (*Family, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO families (id, name, timezone) VALUES (?, ?, ?)`, id, name, timezone)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return s.GetByID(id)
}

func (s *FamilyStore) GetByID(id string) (*Family, error) {
	var f Family
	err := s.db.QueryRow(`SELECT id, name, timezone FROM families WHERE id = ?`, id).Scan(&f.ID, &f.Name, &f.Timezone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return &f, nil
}
