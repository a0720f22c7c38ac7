// Package risk scores pre-flight risk questionnaires against the active
// configuration and produces the go/no-go determination.
//
// Evaluation is a pure function of its input: the caller fetches a consistent
// snapshot of reference data, calls Evaluate, and persists the result.
package risk

import (
	"time"

	"github.com/pavelanni/preflight/internal/model"
)

// DefaultCautionRatio is the fraction of the maximum allowed score at which
// a passing assessment is reported as caution instead of go.
const DefaultCautionRatio = 0.75

// Input is everything one evaluation needs.
type Input struct {
	LearnerID       string
	FlightSessionID string
	MissionID       string
	Notes           string
	Config          model.Config
	Questions       []model.Question // inactive questions are ignored
	Responses       []model.Response
}

// Evaluator scores response sets. The zero value has no caution band and
// uses time.Now for completion timestamps.
type Evaluator struct {
	CautionRatio float64
	Now          func() time.Time
}

// New returns an Evaluator with the given caution ratio.
func New(cautionRatio float64) *Evaluator {
	return &Evaluator{CautionRatio: cautionRatio, Now: time.Now}
}

// Evaluate resolves every response, aggregates the scores and classifies
// the result. Any failure aborts the whole evaluation.
func (e *Evaluator) Evaluate(in Input) (*model.Assessment, error) {
	active, err := activeQuestions(in.Questions)
	if err != nil {
		return nil, err
	}
	byQuestion, err := matchResponses(active, in.Responses)
	if err != nil {
		return nil, err
	}

	a := &model.Assessment{
		LearnerID:       in.LearnerID,
		ConfigID:        in.Config.ID,
		FlightSessionID: in.FlightSessionID,
		MissionID:       in.MissionID,
		Notes:           in.Notes,
		MaxAllowedScore: in.Config.MaxAllowedScore,
		Responses:       make([]model.ScoredResponse, 0, len(active)),
	}
	for _, q := range active {
		sr, err := resolve(q, byQuestion[q.ID])
		if err != nil {
			return nil, err
		}
		a.TotalScore += sr.Score
		a.Disqualified = a.Disqualified || sr.Disqualifying
		a.Responses = append(a.Responses, sr)
	}

	a.Passed = !a.Disqualified && a.TotalScore <= in.Config.MaxAllowedScore
	a.Result = Classify(a.TotalScore, in.Config.MaxAllowedScore, a.Disqualified, e.CautionRatio)
	a.CompletedAt = e.now()
	return a, nil
}

func (e *Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// Classify maps an aggregate score to a result. Disqualification and scores
// above the maximum are no_go; scores at or above cautionRatio*max are
// caution; everything else is go. A non-positive ratio disables caution.
func Classify(total, maxAllowed int, disqualified bool, cautionRatio float64) model.Result {
	switch {
	case disqualified, total > maxAllowed:
		return model.ResultNoGo
	case cautionRatio > 0 && float64(total) >= float64(maxAllowed)*cautionRatio:
		return model.ResultCaution
	default:
		return model.ResultGo
	}
}

func activeQuestions(questions []model.Question) ([]model.Question, error) {
	seen := make(map[string]bool, len(questions))
	var active []model.Question
	for _, q := range questions {
		if !q.Active {
			continue
		}
		if seen[q.ID] {
			return nil, &ConfigurationError{QuestionID: q.ID, Reason: "question appears twice in the active set"}
		}
		seen[q.ID] = true
		active = append(active, q)
	}
	return active, nil
}

// matchResponses pairs each active question with exactly one response.
func matchResponses(active []model.Question, responses []model.Response) (map[string]model.Response, error) {
	known := make(map[string]model.Question, len(active))
	for _, q := range active {
		known[q.ID] = q
	}

	byQuestion := make(map[string]model.Response, len(responses))
	var extra []string
	for _, r := range responses {
		if _, ok := known[r.QuestionID]; !ok {
			extra = append(extra, r.QuestionID)
			continue
		}
		if _, dup := byQuestion[r.QuestionID]; dup {
			extra = append(extra, r.QuestionID)
			continue
		}
		byQuestion[r.QuestionID] = r
	}

	var missing []string
	for _, q := range active {
		r, ok := byQuestion[q.ID]
		if !ok || !answered(q, r) {
			missing = append(missing, q.ID)
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		return nil, &ValidationError{Missing: missing, Extra: extra}
	}
	return byQuestion, nil
}

// answered reports whether r carries the payload q's type needs.
func answered(q model.Question, r model.Response) bool {
	switch q.Type {
	case model.QuestionChoice:
		return r.OptionID != ""
	case model.QuestionNumericRange:
		return r.Value != nil
	}
	// Unknown types are reported during resolution.
	return true
}

func resolve(q model.Question, r model.Response) (model.ScoredResponse, error) {
	sr := model.ScoredResponse{QuestionID: q.ID}

	switch q.Type {
	case model.QuestionChoice:
		opt, ok := findOption(q, r.OptionID)
		if !ok {
			return sr, &InvalidOptionError{QuestionID: q.ID, OptionID: r.OptionID}
		}
		if opt.RiskScore < 0 {
			return sr, &ConfigurationError{QuestionID: q.ID, Reason: "answer option " + opt.ID + " has a negative risk score"}
		}
		sr.OptionID = opt.ID
		sr.Score = opt.RiskScore
		sr.Disqualifying = opt.Disqualifying

	case model.QuestionNumericRange:
		v := *r.Value
		rng, err := findRange(q, v)
		if err != nil {
			return sr, err
		}
		if rng.RiskScore < 0 {
			return sr, &ConfigurationError{QuestionID: q.ID, Reason: "numeric range has a negative risk score", RangeIDs: []string{rng.ID}}
		}
		sr.RangeID = rng.ID
		sr.Value = &v
		sr.Score = rng.RiskScore
		sr.Disqualifying = rng.Disqualifying

	default:
		return sr, &ConfigurationError{QuestionID: q.ID, Reason: "unknown question type " + string(q.Type)}
	}
	return sr, nil
}

func findOption(q model.Question, optionID string) (model.AnswerOption, bool) {
	for _, o := range q.Options {
		if o.ID != optionID {
			continue
		}
		// Options loaded without an owner are taken to belong to q.
		if o.QuestionID != "" && o.QuestionID != q.ID {
			return model.AnswerOption{}, false
		}
		return o, true
	}
	return model.AnswerOption{}, false
}

// findRange returns the single range containing v. Overlaps fail fast so a
// data-entry bug is never hidden behind a first-match pick.
func findRange(q model.Question, v float64) (model.NumericRange, error) {
	var matches []model.NumericRange
	for _, rng := range q.Ranges {
		if rng.Contains(v) {
			matches = append(matches, rng)
		}
	}
	switch len(matches) {
	case 0:
		return model.NumericRange{}, &OutOfRangeError{QuestionID: q.ID, Value: v}
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return model.NumericRange{}, &ConfigurationError{QuestionID: q.ID, Reason: "overlapping numeric ranges", RangeIDs: ids}
}
