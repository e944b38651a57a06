package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Detection is a class-entered event that was presented to the player.
type Detection struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Category    string    `json:"category"`
	Probability float64   `json:"probability"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DetectionRepository provides access to recorded detections.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Create inserts d. An empty ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (r *DetectionRepository) Create(d *Detection) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO detections (id, label, category, probability, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Label, d.Category, d.Probability, d.CreatedAt,
	)
	return err
}

// List returns the most recent detections, newest first. A limit <= 0 uses
// DefaultListLimit.
func (r *DetectionRepository) List(limit int) ([]*Detection, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(
		`SELECT id, label, category, probability, created_at
		 FROM detections ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := []*Detection{}
	for rows.Next() {
		d := &Detection{}
		if err := rows.Scan(&d.ID, &d.Label, &d.Category, &d.Probability, &d.CreatedAt); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// CountByCategory returns how many detections each category has.
func (r *DetectionRepository) CountByCategory() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT category, COUNT(*) FROM detections GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[category] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// DeleteAll removes every detection and returns how many were removed.
func (r *DetectionRepository) DeleteAll() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM detections`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
