package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayusman/sortcam/internal/debounce"
)

// Setting keys.
const (
	KeyThreshold       = "threshold"
	KeyCooldownSeconds = "cooldown_seconds"
	KeyPolicy          = "policy"
	KeyIgnoreUnknown   = "ignore_unknown"
	KeyMappingsSeeded  = "mappings_seeded"
)

// SettingRepository stores key-value settings.
type SettingRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingRepository {
	return &SettingRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// All returns every stored setting.
func (r *SettingRepository) All() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// LoadDebounce overlays the stored debouncer settings onto base. Missing
// keys keep base's values; malformed values are an error.
func (r *SettingRepository) LoadDebounce(base debounce.Config) (debounce.Config, bool, error) {
	all, err := r.All()
	if err != nil {
		return base, false, err
	}

	cfg := base
	ignoreUnknown := false

	if v, ok := all[KeyThreshold]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return base, false, fmt.Errorf("setting %s: %w", KeyThreshold, err)
		}
		cfg.Threshold = f
	}
	if v, ok := all[KeyCooldownSeconds]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return base, false, fmt.Errorf("setting %s: %w", KeyCooldownSeconds, err)
		}
		cfg.Cooldown = time.Duration(f * float64(time.Second))
	}
	if v, ok := all[KeyPolicy]; ok {
		p, err := debounce.ParsePolicy(v)
		if err != nil {
			return base, false, fmt.Errorf("setting %s: %w", KeyPolicy, err)
		}
		cfg.Policy = p
	}
	if v, ok := all[KeyIgnoreUnknown]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return base, false, fmt.Errorf("setting %s: %w", KeyIgnoreUnknown, err)
		}
		ignoreUnknown = b
	}

	return cfg, ignoreUnknown, nil
}

// SaveDebounce stores cfg and the unknown-class flag.
func (r *SettingRepository) SaveDebounce(cfg debounce.Config, ignoreUnknown bool) error {
	values := map[string]string{
		KeyThreshold:       strconv.FormatFloat(cfg.Threshold, 'f', -1, 64),
		KeyCooldownSeconds: strconv.FormatFloat(cfg.Cooldown.Seconds(), 'f', -1, 64),
		KeyPolicy:          string(cfg.Policy),
		KeyIgnoreUnknown:   strconv.FormatBool(ignoreUnknown),
	}
	for k, v := range values {
		if err := r.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
