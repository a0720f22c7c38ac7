package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/preflight/internal/model"
)

// effectiveResult is the latest override's result, falling back to the computed one.
const effectiveResult = `COALESCE((SELECT o.result FROM assessment_overrides o
	WHERE o.assessment_id = a.id ORDER BY o.id DESC LIMIT 1), a.result)`

const assessmentColumns = `a.id, a.learner_id, a.config_id, a.flight_session_id, a.mission_id, a.notes,
	a.total_score, a.max_allowed_score, a.disqualified, a.passed, a.result, a.completed_at`

// SaveAssessment appends an assessment and its scored responses in one
// transaction and returns the assessment id.
func (s *Store) SaveAssessment(a *model.Assessment) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO assessments (id, learner_id, config_id, flight_session_id, mission_id, notes,
		 total_score, max_allowed_score, disqualified, passed, result, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LearnerID, a.ConfigID, a.FlightSessionID, a.MissionID, a.Notes,
		a.TotalScore, a.MaxAllowedScore, a.Disqualified, a.Passed, a.Result, a.CompletedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert assessment: %w", err)
	}

	for _, r := range a.Responses {
		_, err := tx.Exec(
			`INSERT INTO assessment_responses (assessment_id, question_id, option_id, range_id, numeric_value, risk_score, disqualifying)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, r.QuestionID, r.OptionID, r.RangeID, r.Value, r.Score, r.Disqualifying,
		)
		if err != nil {
			return "", fmt.Errorf("insert response for question %s: %w", r.QuestionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Info("saved risk assessment",
		"id", a.ID, "learner", a.LearnerID, "score", a.TotalScore, "result", a.Result)
	return a.ID, nil
}

// GetAssessment returns an assessment with its responses and latest override,
// or nil if it does not exist.
func (s *Store) GetAssessment(id string) (*model.Assessment, error) {
	a, err := scanAssessment(s.db.QueryRow(`SELECT `+assessmentColumns+` FROM assessments a WHERE a.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Responses, err = s.listResponses(id); err != nil {
		return nil, err
	}
	if a.Override, err = latestOverride(s.db, id); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns assessments newest first, without responses.
func (s *Store) ListAssessments(f model.AssessmentFilter) ([]model.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments a WHERE 1=1`
	var args []any
	if f.LearnerID != "" {
		query += ` AND a.learner_id = ?`
		args = append(args, f.LearnerID)
	}
	if f.Result != "" {
		query += ` AND ` + effectiveResult + ` = ?`
		args = append(args, f.Result)
	}
	query += ` ORDER BY a.completed_at DESC, a.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var list []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		if list[i].Override, err = latestOverride(s.db, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// CountByResult tallies assessments by effective result.
func (s *Store) CountByResult() (map[model.Result]int, error) {
	rows, err := s.db.Query(`SELECT ` + effectiveResult + ` AS r, COUNT(*) FROM assessments a GROUP BY r`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[model.Result]int{
		model.ResultGo:      0,
		model.ResultCaution: 0,
		model.ResultNoGo:    0,
	}
	for rows.Next() {
		var r model.Result
		var n int
		if err := rows.Scan(&r, &n); err != nil {
			return nil, err
		}
		counts[r] = n
	}
	return counts, rows.Err()
}

// AddOverride appends an instructor override. The assessment row itself is
// never modified. It returns sql.ErrNoRows when the assessment does not exist.
func (s *Store) AddOverride(o model.Override) (int64, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM assessments WHERE id = ?`, o.AssessmentID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, sql.ErrNoRows
	}
	res, err := s.db.Exec(
		`INSERT INTO assessment_overrides (assessment_id, instructor_id, reason, result, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		o.AssessmentID, o.InstructorID, o.Reason, o.Result, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("recorded instructor override",
		"assessment", o.AssessmentID, "instructor", o.InstructorID, "result", o.Result)
	return id, nil
}

// ListOverrides returns every override for an assessment, oldest first.
func (s *Store) ListOverrides(assessmentID string) ([]model.Override, error) {
	rows, err := s.db.Query(
		`SELECT id, assessment_id, instructor_id, reason, result, created_at
		 FROM assessment_overrides WHERE assessment_id = ? ORDER BY id`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Override
	for rows.Next() {
		var o model.Override
		if err := rows.Scan(&o.ID, &o.AssessmentID, &o.InstructorID, &o.Reason, &o.Result, &o.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func latestOverride(q querier, assessmentID string) (*model.Override, error) {
	var o model.Override
	err := q.QueryRow(
		`SELECT id, assessment_id, instructor_id, reason, result, created_at
		 FROM assessment_overrides WHERE assessment_id = ? ORDER BY id DESC LIMIT 1`, assessmentID,
	).Scan(&o.ID, &o.AssessmentID, &o.InstructorID, &o.Reason, &o.Result, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) listResponses(assessmentID string) ([]model.ScoredResponse, error) {
	rows, err := s.db.Query(
		`SELECT question_id, option_id, range_id, numeric_value, risk_score, disqualifying
		 FROM assessment_responses WHERE assessment_id = ? ORDER BY id`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.ScoredResponse
	for rows.Next() {
		var r model.ScoredResponse
		if err := rows.Scan(&r.QuestionID, &r.OptionID, &r.RangeID, &r.Value, &r.Score, &r.Disqualifying); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (*model.Assessment, error) {
	var a model.Assessment
	err := row.Scan(&a.ID, &a.LearnerID, &a.ConfigID, &a.FlightSessionID, &a.MissionID, &a.Notes,
		&a.TotalScore, &a.MaxAllowedScore, &a.Disqualified, &a.Passed, &a.Result, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
