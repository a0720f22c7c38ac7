package risk

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/pavelanni/preflight/internal/model"
)

func f(v float64) *float64 { return &v }

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestEvaluator() *Evaluator {
	e := New(DefaultCautionRatio)
	e.Now = func() time.Time { return fixedNow }
	return e
}

// exampleInput builds the two-question worked example: a choice question
// scoring 0/5/10 and a numeric question with [0,10]->0 and [11,20]->8.
func exampleInput(responses ...model.Response) Input {
	return Input{
		LearnerID: "learner-1",
		Config:    model.Config{ID: "cfg-1", MaxAllowedScore: 10, Active: true},
		Questions: []model.Question{
			{
				ID: "q1", Type: model.QuestionChoice, Active: true,
				Options: []model.AnswerOption{
					{ID: "q1-low", QuestionID: "q1", Label: "Rested", RiskScore: 0},
					{ID: "q1-mid", QuestionID: "q1", Label: "Tired", RiskScore: 5},
					{ID: "q1-high", QuestionID: "q1", Label: "Exhausted", RiskScore: 10},
				},
			},
			{
				ID: "q2", Type: model.QuestionNumericRange, Active: true,
				Ranges: []model.NumericRange{
					{ID: "q2-a", QuestionID: "q2", Lower: f(0), Upper: f(10), RiskScore: 0},
					{ID: "q2-b", QuestionID: "q2", Lower: f(11), Upper: f(20), RiskScore: 8},
				},
			},
		},
		Responses: responses,
	}
}

func TestEvaluateWorkedExample(t *testing.T) {
	tests := []struct {
		name       string
		responses  []model.Response
		wantTotal  int
		wantPassed bool
		wantResult model.Result
	}{
		{
			name: "over threshold",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-mid"},
				{QuestionID: "q2", Value: f(15)},
			},
			wantTotal: 13, wantPassed: false, wantResult: model.ResultNoGo,
		},
		{
			name: "all clear",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-low"},
				{QuestionID: "q2", Value: f(5)},
			},
			wantTotal: 0, wantPassed: true, wantResult: model.ResultGo,
		},
		{
			name: "exactly at threshold passes with caution",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-high"},
				{QuestionID: "q2", Value: f(0)},
			},
			wantTotal: 10, wantPassed: true, wantResult: model.ResultCaution,
		},
		{
			name: "response order does not matter",
			responses: []model.Response{
				{QuestionID: "q2", Value: f(20)},
				{QuestionID: "q1", OptionID: "q1-low"},
			},
			wantTotal: 8, wantPassed: true, wantResult: model.ResultCaution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := newTestEvaluator().Evaluate(exampleInput(tt.responses...))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if a.TotalScore != tt.wantTotal {
				t.Errorf("TotalScore = %d, want %d", a.TotalScore, tt.wantTotal)
			}
			if a.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", a.Passed, tt.wantPassed)
			}
			if a.Result != tt.wantResult {
				t.Errorf("Result = %q, want %q", a.Result, tt.wantResult)
			}
			if a.Disqualified {
				t.Error("expected no disqualification")
			}
			if !a.CompletedAt.Equal(fixedNow) {
				t.Errorf("CompletedAt = %v, want %v", a.CompletedAt, fixedNow)
			}
		})
	}
}

func TestEvaluateBreakdown(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q2", Value: f(15)},
		model.Response{QuestionID: "q1", OptionID: "q1-mid"},
	)
	in.FlightSessionID = "flight-7"

	a, err := newTestEvaluator().Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []model.ScoredResponse{
		{QuestionID: "q1", OptionID: "q1-mid", Score: 5},
		{QuestionID: "q2", RangeID: "q2-b", Value: f(15), Score: 8},
	}
	if !reflect.DeepEqual(a.Responses, want) {
		t.Errorf("Responses = %+v, want %+v", a.Responses, want)
	}

	sum := 0
	for _, r := range a.Responses {
		sum += r.Score
	}
	if sum != a.TotalScore {
		t.Errorf("breakdown sums to %d, total is %d", sum, a.TotalScore)
	}
	if a.LearnerID != "learner-1" || a.ConfigID != "cfg-1" || a.FlightSessionID != "flight-7" {
		t.Errorf("unexpected identity fields: %+v", a)
	}
	if a.MaxAllowedScore != 10 {
		t.Errorf("MaxAllowedScore = %d, want 10", a.MaxAllowedScore)
	}
}

func TestEvaluateDisqualifying(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
		model.Response{QuestionID: "q2", Value: f(3)},
	)
	in.Questions[0].Options = append(in.Questions[0].Options, model.AnswerOption{
		ID: "q1-dq", QuestionID: "q1", Label: "Under the influence", RiskScore: 0, Disqualifying: true,
	})
	in.Responses[0].OptionID = "q1-dq"

	a, err := newTestEvaluator().Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !a.Disqualified {
		t.Error("expected disqualified")
	}
	if a.Passed {
		t.Error("disqualified assessment must not pass")
	}
	if a.TotalScore != 0 {
		t.Errorf("TotalScore = %d, want 0", a.TotalScore)
	}
	if a.Result != model.ResultNoGo {
		t.Errorf("Result = %q, want no_go", a.Result)
	}
}

func TestEvaluateDisqualifyingRange(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
		model.Response{QuestionID: "q2", Value: f(25)},
	)
	in.Questions[1].Ranges = append(in.Questions[1].Ranges, model.NumericRange{
		ID: "q2-c", QuestionID: "q2", Lower: f(21), RiskScore: 1, Disqualifying: true,
	})

	a, err := newTestEvaluator().Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !a.Disqualified || a.Passed {
		t.Errorf("Disqualified = %v, Passed = %v; want true, false", a.Disqualified, a.Passed)
	}
	if a.Responses[1].RangeID != "q2-c" {
		t.Errorf("resolved range %q, want q2-c", a.Responses[1].RangeID)
	}
}

func TestEvaluateMissingResponse(t *testing.T) {
	_, err := newTestEvaluator().Evaluate(exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
	))

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !reflect.DeepEqual(ve.Missing, []string{"q2"}) {
		t.Errorf("Missing = %v, want [q2]", ve.Missing)
	}
	if len(ve.Extra) != 0 {
		t.Errorf("Extra = %v, want none", ve.Extra)
	}
}

func TestEvaluateResponseSetErrors(t *testing.T) {
	tests := []struct {
		name        string
		responses   []model.Response
		wantMissing []string
		wantExtra   []string
	}{
		{
			name:        "no responses",
			responses:   nil,
			wantMissing: []string{"q1", "q2"},
		},
		{
			name: "unknown question",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-low"},
				{QuestionID: "q2", Value: f(1)},
				{QuestionID: "q9", OptionID: "x"},
			},
			wantExtra: []string{"q9"},
		},
		{
			name: "duplicate response",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-low"},
				{QuestionID: "q1", OptionID: "q1-mid"},
				{QuestionID: "q2", Value: f(1)},
			},
			wantExtra: []string{"q1"},
		},
		{
			name: "numeric question without value",
			responses: []model.Response{
				{QuestionID: "q1", OptionID: "q1-low"},
				{QuestionID: "q2", OptionID: "q2-a"},
			},
			wantMissing: []string{"q2"},
		},
		{
			name: "choice question without option",
			responses: []model.Response{
				{QuestionID: "q1", Value: f(3)},
				{QuestionID: "q2", Value: f(1)},
			},
			wantMissing: []string{"q1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestEvaluator().Evaluate(exampleInput(tt.responses...))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !reflect.DeepEqual(ve.Missing, tt.wantMissing) {
				t.Errorf("Missing = %v, want %v", ve.Missing, tt.wantMissing)
			}
			if !reflect.DeepEqual(ve.Extra, tt.wantExtra) {
				t.Errorf("Extra = %v, want %v", ve.Extra, tt.wantExtra)
			}
			if Kind(err) != "validation" {
				t.Errorf("Kind = %q, want validation", Kind(err))
			}
		})
	}
}

func TestEvaluateInactiveQuestion(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
		model.Response{QuestionID: "q2", Value: f(1)},
	)
	in.Questions = append(in.Questions, model.Question{
		ID: "q3", Type: model.QuestionChoice, Active: false,
		Options: []model.AnswerOption{{ID: "q3-a", QuestionID: "q3", RiskScore: 4}},
	})

	a, err := newTestEvaluator().Evaluate(in)
	if err != nil {
		t.Fatalf("inactive question should not need a response: %v", err)
	}
	if len(a.Responses) != 2 {
		t.Errorf("expected 2 scored responses, got %d", len(a.Responses))
	}

	in.Responses = append(in.Responses, model.Response{QuestionID: "q3", OptionID: "q3-a"})
	_, err = newTestEvaluator().Evaluate(in)
	var ve *ValidationError
	if !errors.As(err, &ve) || !reflect.DeepEqual(ve.Extra, []string{"q3"}) {
		t.Errorf("expected ValidationError naming q3 as extra, got %v", err)
	}
}

func TestEvaluateInvalidOption(t *testing.T) {
	tests := []struct {
		name     string
		optionID string
		mutate   func(in *Input)
	}{
		{name: "unknown option", optionID: "nope"},
		{name: "option of another question", optionID: "q2-a"},
		{
			name:     "option owned by another question",
			optionID: "foreign",
			mutate: func(in *Input) {
				in.Questions[0].Options = append(in.Questions[0].Options,
					model.AnswerOption{ID: "foreign", QuestionID: "q7", RiskScore: 1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := exampleInput(
				model.Response{QuestionID: "q1", OptionID: tt.optionID},
				model.Response{QuestionID: "q2", Value: f(1)},
			)
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := newTestEvaluator().Evaluate(in)
			var ie *InvalidOptionError
			if !errors.As(err, &ie) {
				t.Fatalf("expected InvalidOptionError, got %v", err)
			}
			if ie.QuestionID != "q1" || ie.OptionID != tt.optionID {
				t.Errorf("unexpected error fields: %+v", ie)
			}
		})
	}
}

func TestEvaluateOutOfRange(t *testing.T) {
	for _, v := range []float64{-1, 10.5, 21, math.NaN()} {
		in := exampleInput(
			model.Response{QuestionID: "q1", OptionID: "q1-low"},
			model.Response{QuestionID: "q2", Value: f(v)},
		)
		_, err := newTestEvaluator().Evaluate(in)
		var oe *OutOfRangeError
		if !errors.As(err, &oe) {
			t.Errorf("value %g: expected OutOfRangeError, got %v", v, err)
			continue
		}
		if oe.QuestionID != "q2" {
			t.Errorf("value %g: QuestionID = %q, want q2", v, oe.QuestionID)
		}
	}
}

func TestEvaluateRangeBoundsInclusive(t *testing.T) {
	tests := []struct {
		value     float64
		wantRange string
	}{
		{0, "q2-a"},
		{10, "q2-a"},
		{11, "q2-b"},
		{20, "q2-b"},
	}
	for _, tt := range tests {
		in := exampleInput(
			model.Response{QuestionID: "q1", OptionID: "q1-low"},
			model.Response{QuestionID: "q2", Value: f(tt.value)},
		)
		a, err := newTestEvaluator().Evaluate(in)
		if err != nil {
			t.Fatalf("value %g: %v", tt.value, err)
		}
		if got := a.Responses[1].RangeID; got != tt.wantRange {
			t.Errorf("value %g resolved to %q, want %q", tt.value, got, tt.wantRange)
		}
	}
}

func TestEvaluateOpenEndedRange(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
		model.Response{QuestionID: "q2", Value: f(1e6)},
	)
	in.Questions[1].Ranges[1].Upper = nil

	a, err := newTestEvaluator().Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.Responses[1].RangeID != "q2-b" {
		t.Errorf("resolved range %q, want q2-b", a.Responses[1].RangeID)
	}
}

func TestEvaluateOverlappingRanges(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-low"},
		model.Response{QuestionID: "q2", Value: f(10)},
	)
	in.Questions[1].Ranges[1].Lower = f(10)

	_, err := newTestEvaluator().Evaluate(in)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if ce.QuestionID != "q2" {
		t.Errorf("QuestionID = %q, want q2", ce.QuestionID)
	}
	if !reflect.DeepEqual(ce.RangeIDs, []string{"q2-a", "q2-b"}) {
		t.Errorf("RangeIDs = %v, want [q2-a q2-b]", ce.RangeIDs)
	}
}

func TestEvaluateConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *Input)
	}{
		{"unknown question type", func(in *Input) { in.Questions[0].Type = "boolean" }},
		{"negative option score", func(in *Input) { in.Questions[0].Options[0].RiskScore = -2 }},
		{"negative range score", func(in *Input) { in.Questions[1].Ranges[0].RiskScore = -1 }},
		{"duplicate active question", func(in *Input) { in.Questions = append(in.Questions, in.Questions[0]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := exampleInput(
				model.Response{QuestionID: "q1", OptionID: "q1-low"},
				model.Response{QuestionID: "q2", Value: f(1)},
			)
			tt.mutate(&in)
			_, err := newTestEvaluator().Evaluate(in)
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if Kind(err) != "configuration" {
				t.Errorf("Kind = %q, want configuration", Kind(err))
			}
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	in := exampleInput(
		model.Response{QuestionID: "q1", OptionID: "q1-mid"},
		model.Response{QuestionID: "q2", Value: f(12)},
	)
	e := New(DefaultCautionRatio)

	first, err := e.Evaluate(in)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	second, err := e.Evaluate(in)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if first.TotalScore != second.TotalScore || first.Disqualified != second.Disqualified ||
		first.Passed != second.Passed || first.Result != second.Result {
		t.Errorf("evaluations differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(first.Responses, second.Responses) {
		t.Error("breakdowns differ between identical evaluations")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		total, max   int
		disqualified bool
		ratio        float64
		want         model.Result
	}{
		{"well under", 2, 10, false, 0.75, model.ResultGo},
		{"just under caution", 7, 10, false, 0.75, model.ResultGo},
		{"caution boundary", 8, 10, false, 0.75, model.ResultCaution},
		{"at max", 10, 10, false, 0.75, model.ResultCaution},
		{"over max", 11, 10, false, 0.75, model.ResultNoGo},
		{"disqualified low score", 0, 10, true, 0.75, model.ResultNoGo},
		{"caution disabled", 10, 10, false, 0, model.ResultGo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.total, tt.max, tt.disqualified, tt.ratio); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuestionIDs(t *testing.T) {
	err := error(&ValidationError{Missing: []string{"a"}, Extra: []string{"b"}})
	if got := QuestionIDs(err); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("QuestionIDs = %v, want [a b]", got)
	}
	if got := QuestionIDs(errors.New("other")); got != nil {
		t.Errorf("QuestionIDs(other) = %v, want nil", got)
	}
	if Kind(errors.New("other")) != "" {
		t.Error("Kind of a foreign error should be empty")
	}
}
