package store

import (
	"fmt"

	"github.com/pavelanni/preflight/internal/model"
)

// ExportAssessments builds export-ready records for the assessments matching f,
// resolving question and answer ids to their display text.
func (s *Store) ExportAssessments(f model.AssessmentFilter) ([]model.AssessmentRecord, error) {
	list, err := s.ListAssessments(f)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}

	// Include inactive questions: old assessments may reference them.
	questions, err := s.ListQuestions(false)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	lookup := model.NewLabelLookup(questions)

	records := make([]model.AssessmentRecord, 0, len(list))
	for _, a := range list {
		full, err := s.GetAssessment(a.ID)
		if err != nil {
			return nil, fmt.Errorf("get assessment %s: %w", a.ID, err)
		}

		answers := make([]model.AnswerRecord, 0, len(full.Responses))
		for _, r := range full.Responses {
			answers = append(answers, model.AnswerRecord{
				Question:      lookup.Question(r.QuestionID),
				Answer:        lookup.Answer(r),
				Value:         r.Value,
				Score:         r.Score,
				Disqualifying: r.Disqualifying,
			})
		}

		records = append(records, model.AssessmentRecord{
			ID:              full.ID,
			LearnerID:       full.LearnerID,
			FlightSessionID: full.FlightSessionID,
			TotalScore:      full.TotalScore,
			MaxAllowedScore: full.MaxAllowedScore,
			Result:          full.Result,
			EffectiveResult: full.EffectiveResult(),
			Disqualified:    full.Disqualified,
			CompletedAt:     full.CompletedAt,
			Override:        full.Override,
			Answers:         answers,
		})
	}
	return records, nil
}
