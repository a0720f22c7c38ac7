package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/preflight/internal/model"
)

// ImportBank stores a question bank in one transaction. Questions whose id
// already exists are replaced, the rest are inserted. The bank's config is
// activated only when no other config is active yet.
func (s *Store) ImportBank(b model.QuestionBank) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range b.Categories {
		if _, err := upsertCategory(tx, c); err != nil {
			return fmt.Errorf("category %q: %w", c.Name, err)
		}
	}
	for _, q := range b.Questions {
		if err := upsertQuestion(tx, q); err != nil {
			return fmt.Errorf("question %q: %w", q.Text, err)
		}
	}

	if b.Config != nil {
		id, err := createConfig(tx, *b.Config)
		if err != nil {
			return fmt.Errorf("config %q: %w", b.Config.Name, err)
		}
		active, err := activeConfig(tx)
		if err != nil {
			return err
		}
		if active == nil {
			if err := activateConfig(tx, id); err != nil {
				return err
			}
			slog.Info("activated imported config", "id", id, "max_allowed_score", b.Config.MaxAllowedScore)
		}
	}

	return tx.Commit()
}

func upsertQuestion(tx querier, q model.Question) error {
	if q.ID != "" {
		err := replaceQuestion(tx, q)
		if err != sql.ErrNoRows {
			return err
		}
	}
	_, err := insertQuestion(tx, q)
	return err
}
