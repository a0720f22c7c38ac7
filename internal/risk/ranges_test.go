package risk

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pavelanni/preflight/internal/model"
)

func TestCheckRanges(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []model.NumericRange
		wantErr bool
	}{
		{
			name: "disjoint",
			ranges: []model.NumericRange{
				{ID: "a", Lower: f(0), Upper: f(10)},
				{ID: "b", Lower: f(11), Upper: f(20)},
			},
		},
		{
			name: "unsorted disjoint with open ends",
			ranges: []model.NumericRange{
				{ID: "hi", Lower: f(100)},
				{ID: "lo", Upper: f(-1)},
				{ID: "mid", Lower: f(0), Upper: f(99)},
			},
		},
		{
			name: "shared endpoint overlaps",
			ranges: []model.NumericRange{
				{ID: "a", Lower: f(0), Upper: f(10)},
				{ID: "b", Lower: f(10), Upper: f(20)},
			},
			wantErr: true,
		},
		{
			name: "two unbounded below",
			ranges: []model.NumericRange{
				{ID: "a", Upper: f(5)},
				{ID: "b", Upper: f(10)},
			},
			wantErr: true,
		},
		{
			name:    "inverted bounds",
			ranges:  []model.NumericRange{{ID: "a", Lower: f(5), Upper: f(1)}},
			wantErr: true,
		},
		{
			name:    "negative score",
			ranges:  []model.NumericRange{{ID: "a", Lower: f(0), Upper: f(1), RiskScore: -3}},
			wantErr: true,
		},
		{
			name: "duplicate id",
			ranges: []model.NumericRange{
				{ID: "a", Lower: f(0), Upper: f(10)},
				{ID: "a", Lower: f(11), Upper: f(20)},
			},
			wantErr: true,
		},
		{
			name: "ids left empty",
			ranges: []model.NumericRange{
				{Lower: f(0), Upper: f(10)},
				{Lower: f(11), Upper: f(20)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRanges("q", tt.ranges)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckRanges() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *ConfigurationError
				if !errors.As(err, &ce) || ce.QuestionID != "q" {
					t.Errorf("expected ConfigurationError for q, got %v", err)
				}
			}
		})
	}
}

func TestCheckQuestion(t *testing.T) {
	tests := []struct {
		name    string
		q       model.Question
		wantErr bool
	}{
		{"choice ok", model.Question{ID: "c", Type: model.QuestionChoice, Options: []model.AnswerOption{{Label: "yes"}}}, false},
		{"choice without options", model.Question{ID: "c", Type: model.QuestionChoice}, true},
		{"choice negative score", model.Question{ID: "c", Type: model.QuestionChoice, Options: []model.AnswerOption{{Label: "x", RiskScore: -1}}}, true},
		{"choice duplicate option id", model.Question{ID: "c", Type: model.QuestionChoice, Options: []model.AnswerOption{{ID: "yes", Label: "Yes"}, {ID: "yes", Label: "Yes, a little"}}}, true},
		{"choice options without ids", model.Question{ID: "c", Type: model.QuestionChoice, Options: []model.AnswerOption{{Label: "Yes"}, {Label: "No"}}}, false},
		{"numeric without ranges", model.Question{ID: "n", Type: model.QuestionNumericRange}, true},
		{"numeric ok", model.Question{ID: "n", Type: model.QuestionNumericRange, Ranges: []model.NumericRange{{Lower: f(0)}}}, false},
		{"unknown type", model.Question{ID: "u", Type: "boolean"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckQuestion(tt.q); (err != nil) != tt.wantErr {
				t.Errorf("CheckQuestion() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGaps(t *testing.T) {
	ranges := []model.NumericRange{
		{ID: "b", Lower: f(11), Upper: f(20)},
		{ID: "a", Lower: f(0), Upper: f(10)},
		{ID: "c", Lower: f(20.5)},
	}
	want := []Gap{{After: 10, Before: 11}, {After: 20, Before: 20.5}}
	if got := Gaps(ranges); !reflect.DeepEqual(got, want) {
		t.Errorf("Gaps() = %v, want %v", got, want)
	}

	if got := Gaps([]model.NumericRange{{Upper: f(0)}, {Lower: f(0.5)}}); len(got) != 1 {
		t.Errorf("expected one gap, got %v", got)
	}
	if got := Gaps(nil); got != nil {
		t.Errorf("Gaps(nil) = %v, want nil", got)
	}
}
