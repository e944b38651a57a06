package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ayusman/sortcam/internal/sorting"
)

// Mapping binds a classifier label to a sorting category.
type Mapping struct {
	Label     string    `json:"label"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

// MappingRepository provides CRUD operations for class mappings.
type MappingRepository struct {
	db *sql.DB
}

// Mappings returns the mapping repository for this store.
func (s *Store) Mappings() *MappingRepository {
	return &MappingRepository{db: s.db}
}

// Upsert inserts m or replaces the category of an existing label. Labels
// are stored normalized, as the catalog matches them.
func (r *MappingRepository) Upsert(m *Mapping) error {
	m.Label = sorting.NormalizeLabel(m.Label)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO class_mappings (label, category, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET category = excluded.category`,
		m.Label, m.Category, m.CreatedAt,
	)
	return err
}

// Get retrieves the mapping for label.
func (r *MappingRepository) Get(label string) (*Mapping, error) {
	m := &Mapping{}
	err := r.db.QueryRow(
		`SELECT label, category, created_at FROM class_mappings WHERE label = ?`,
		sorting.NormalizeLabel(label),
	).Scan(&m.Label, &m.Category, &m.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return m, nil
}

// List retrieves all mappings ordered by label.
func (r *MappingRepository) List() ([]*Mapping, error) {
	rows, err := r.db.Query(`SELECT label, category, created_at FROM class_mappings ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := []*Mapping{}
	for rows.Next() {
		m := &Mapping{}
		if err := rows.Scan(&m.Label, &m.Category, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return mappings, nil
}

// Map returns all mappings as label to category.
func (r *MappingRepository) Map() (map[string]string, error) {
	mappings, err := r.List()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		out[m.Label] = m.Category
	}
	return out, nil
}

// Delete removes the mapping for label.
func (r *MappingRepository) Delete(label string) error {
	result, err := r.db.Exec(`DELETE FROM class_mappings WHERE label = ?`, sorting.NormalizeLabel(label))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Seed writes defaults the first time it runs against a database and
// reports whether it did. Later calls leave the table alone, so a deleted
// default stays deleted. Existing rows win over defaults.
func (r *MappingRepository) Seed(defaults map[string]string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var seeded string
	err = tx.QueryRow(`SELECT value FROM settings WHERE key = ?`, KeyMappingsSeeded).Scan(&seeded)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	now := time.Now()
	for label, category := range defaults {
		if _, err := tx.Exec(
			`INSERT INTO class_mappings (label, category, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(label) DO NOTHING`,
			sorting.NormalizeLabel(label), category, now,
		); err != nil {
			return false, err
		}
	}
	if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, KeyMappingsSeeded, "true"); err != nil {
		return false, err
	}

	return true, tx.Commit()
}
