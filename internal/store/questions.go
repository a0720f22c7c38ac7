package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/preflight/internal/model"
)

const questionColumns = `id, category_id, text, help_text, type, active, disqualifying, display_order`

// UpsertCategory inserts or updates a category and returns its id.
func (s *Store) UpsertCategory(c model.Category) (string, error) {
	return upsertCategory(s.db, c)
}

func upsertCategory(q querier, c model.Category) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := q.Exec(
		`INSERT INTO categories (id, name, description, display_order) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
		 display_order = excluded.display_order`,
		c.ID, c.Name, c.Description, c.DisplayOrder,
	)
	return c.ID, err
}

// GetCategory returns the category with the given id, or nil if none exists.
func (s *Store) GetCategory(id string) (*model.Category, error) {
	var c model.Category
	err := s.db.QueryRow(`SELECT id, name, description, display_order FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCategories returns all categories in display order.
func (s *Store) ListCategories() ([]model.Category, error) {
	rows, err := s.db.Query(`SELECT id, name, description, display_order FROM categories ORDER BY display_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.DisplayOrder); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// InsertQuestion stores a question with its options or ranges and returns its id.
func (s *Store) InsertQuestion(q model.Question) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id, err := insertQuestion(tx, q)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func insertQuestion(tx querier, q model.Question) (string, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now()
	_, err := tx.Exec(
		`INSERT INTO questions (`+questionColumns+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.CategoryID, q.Text, q.HelpText, q.Type, q.Active, q.Disqualifying, q.DisplayOrder, now, now,
	)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("question %s: %w", q.ID, ErrDuplicateID)
	}
	if err != nil {
		return "", fmt.Errorf("insert question: %w", err)
	}
	if err := replaceChildren(tx, q.ID, q.Options, q.Ranges); err != nil {
		return "", err
	}
	return q.ID, nil
}

// ReplaceQuestion updates a question and reconciles its options and ranges:
// children missing from q are deleted, the rest are upserted in the given order.
// It returns sql.ErrNoRows when the question does not exist.
func (s *Store) ReplaceQuestion(q model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := replaceQuestion(tx, q); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceQuestion(tx querier, q model.Question) error {
	res, err := tx.Exec(
		`UPDATE questions SET category_id = ?, text = ?, help_text = ?, type = ?, active = ?,
		 disqualifying = ?, display_order = ?, updated_at = ? WHERE id = ?`,
		q.CategoryID, q.Text, q.HelpText, q.Type, q.Active, q.Disqualifying, q.DisplayOrder, time.Now(), q.ID,
	)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return replaceChildren(tx, q.ID, q.Options, q.Ranges)
}

// replaceChildren upserts options and ranges keyed by (question, id), so
// questions may reuse ids such as "yes" and "no".
func replaceChildren(tx querier, questionID string, options []model.AnswerOption, ranges []model.NumericRange) error {
	var keepOptions []string
	for i, o := range options {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		keepOptions = append(keepOptions, o.ID)
		_, err := tx.Exec(
			`INSERT INTO answer_options (id, question_id, label, risk_score, disqualifying, display_order)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(question_id, id) DO UPDATE SET label = excluded.label, risk_score = excluded.risk_score,
			 disqualifying = excluded.disqualifying, display_order = excluded.display_order`,
			o.ID, questionID, o.Label, o.RiskScore, o.Disqualifying, i,
		)
		if err != nil {
			return fmt.Errorf("upsert answer option: %w", err)
		}
	}
	if err := deleteOthers(tx, "answer_options", questionID, keepOptions); err != nil {
		return err
	}

	var keepRanges []string
	for i, r := range ranges {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		keepRanges = append(keepRanges, r.ID)
		_, err := tx.Exec(
			`INSERT INTO numeric_ranges (id, question_id, lower_bound, upper_bound, risk_score, disqualifying, label, display_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(question_id, id) DO UPDATE SET lower_bound = excluded.lower_bound, upper_bound = excluded.upper_bound,
			 risk_score = excluded.risk_score, disqualifying = excluded.disqualifying, label = excluded.label,
			 display_order = excluded.display_order`,
			r.ID, questionID, r.Lower, r.Upper, r.RiskScore, r.Disqualifying, r.Label, i,
		)
		if err != nil {
			return fmt.Errorf("upsert numeric range: %w", err)
		}
	}
	return deleteOthers(tx, "numeric_ranges", questionID, keepRanges)
}

// deleteOthers removes rows of table owned by questionID whose id is not in keep.
func deleteOthers(tx querier, table, questionID string, keep []string) error {
	query := `DELETE FROM ` + table + ` WHERE question_id = ?`
	args := []any{questionID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	_, err := tx.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

// GetQuestion returns a question with its options and ranges.
func (s *Store) GetQuestion(id string) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id).
		Scan(&q.ID, &q.CategoryID, &q.Text, &q.HelpText, &q.Type, &q.Active, &q.Disqualifying, &q.DisplayOrder)
	if err != nil {
		return q, err
	}
	if q.Options, err = listOptions(s.db, id); err != nil {
		return q, err
	}
	q.Ranges, err = listRanges(s.db, id)
	return q, err
}

// ListQuestions returns questions in display order with their options and ranges.
func (s *Store) ListQuestions(activeOnly bool) ([]model.Question, error) {
	return listQuestions(s.db, activeOnly)
}

func listQuestions(q querier, activeOnly bool) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY display_order, created_at, id`

	rows, err := q.Query(query)
	if err != nil {
		return nil, err
	}
	var questions []model.Question
	for rows.Next() {
		var qu model.Question
		if err := rows.Scan(&qu.ID, &qu.CategoryID, &qu.Text, &qu.HelpText, &qu.Type, &qu.Active, &qu.Disqualifying, &qu.DisplayOrder); err != nil {
			rows.Close()
			return nil, err
		}
		questions = append(questions, qu)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Children are loaded after the parent cursor is closed: the store runs
	// on a single connection.
	for i := range questions {
		if questions[i].Options, err = listOptions(q, questions[i].ID); err != nil {
			return nil, err
		}
		if questions[i].Ranges, err = listRanges(q, questions[i].ID); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

func listOptions(q querier, questionID string) ([]model.AnswerOption, error) {
	rows, err := q.Query(
		`SELECT id, question_id, label, risk_score, disqualifying, display_order
		 FROM answer_options WHERE question_id = ? ORDER BY display_order, id`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var opts []model.AnswerOption
	for rows.Next() {
		var o model.AnswerOption
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Label, &o.RiskScore, &o.Disqualifying, &o.DisplayOrder); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func listRanges(q querier, questionID string) ([]model.NumericRange, error) {
	rows, err := q.Query(
		`SELECT id, question_id, lower_bound, upper_bound, risk_score, disqualifying, label, display_order
		 FROM numeric_ranges WHERE question_id = ? ORDER BY display_order, id`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ranges []model.NumericRange
	for rows.Next() {
		var r model.NumericRange
		if err := rows.Scan(&r.ID, &r.QuestionID, &r.Lower, &r.Upper, &r.RiskScore, &r.Disqualifying, &r.Label, &r.DisplayOrder); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
