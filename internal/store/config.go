package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/preflight/internal/model"
)

const configColumns = `id, name, description, max_allowed_score, active, created_at`

// CreateConfig stores a new, inactive configuration and returns its id.
func (s *Store) CreateConfig(c model.Config) (string, error) {
	return createConfig(s.db, c)
}

func createConfig(q querier, c model.Config) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := q.Exec(
		`INSERT INTO configs (`+configColumns+`) VALUES (?, ?, ?, ?, 0, ?)`,
		c.ID, c.Name, c.Description, c.MaxAllowedScore, time.Now(),
	)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// ActivateConfig makes id the only active configuration.
// It returns sql.ErrNoRows when the configuration does not exist.
func (s *Store) ActivateConfig(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := activateConfig(tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("activated risk assessment config", "id", id)
	return nil
}

func activateConfig(tx querier, id string) error {
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM configs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return sql.ErrNoRows
	}
	if _, err := tx.Exec(`UPDATE configs SET active = 0 WHERE active = 1`); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE configs SET active = 1 WHERE id = ?`, id)
	return err
}

// GetActiveConfig returns the active configuration, or nil if none is active.
func (s *Store) GetActiveConfig() (*model.Config, error) {
	return activeConfig(s.db)
}

func activeConfig(q querier) (*model.Config, error) {
	var c model.Config
	err := q.QueryRow(`SELECT `+configColumns+` FROM configs WHERE active = 1`).
		Scan(&c.ID, &c.Name, &c.Description, &c.MaxAllowedScore, &c.Active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConfigs returns all configurations, newest first.
func (s *Store) ListConfigs() ([]model.Config, error) {
	rows, err := s.db.Query(`SELECT ` + configColumns + ` FROM configs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []model.Config
	for rows.Next() {
		var c model.Config
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.MaxAllowedScore, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}
