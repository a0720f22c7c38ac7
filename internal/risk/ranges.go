package risk

import (
	"math"
	"sort"

	"github.com/pavelanni/preflight/internal/model"
)

// Gap is an interval between two adjacent ranges that no range covers.
type Gap struct {
	After  float64 // upper bound of the range below the gap
	Before float64 // lower bound of the range above the gap
}

// CheckQuestion validates a question's reference data at edit time: a choice
// question needs options, a numeric question needs well-formed,
// non-overlapping ranges, and no score may be negative.
func CheckQuestion(q model.Question) error {
	switch q.Type {
	case model.QuestionChoice:
		if len(q.Options) == 0 {
			return &ConfigurationError{QuestionID: q.ID, Reason: "choice question has no answer options"}
		}
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if o.RiskScore < 0 {
				return &ConfigurationError{QuestionID: q.ID, Reason: "answer option " + o.Label + " has a negative risk score"}
			}
			if o.ID != "" && seen[o.ID] {
				return &ConfigurationError{QuestionID: q.ID, Reason: "duplicate answer option id " + o.ID}
			}
			seen[o.ID] = true
		}
		return nil
	case model.QuestionNumericRange:
		if len(q.Ranges) == 0 {
			return &ConfigurationError{QuestionID: q.ID, Reason: "numeric question has no ranges"}
		}
		return CheckRanges(q.ID, q.Ranges)
	}
	return &ConfigurationError{QuestionID: q.ID, Reason: "unknown question type " + string(q.Type)}
}

// CheckRanges rejects inverted bounds, negative scores and overlapping
// ranges. Bounds are inclusive, so ranges sharing an endpoint overlap.
func CheckRanges(questionID string, ranges []model.NumericRange) error {
	seen := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		if r.ID != "" && seen[r.ID] {
			return &ConfigurationError{QuestionID: questionID, Reason: "duplicate numeric range id", RangeIDs: []string{r.ID}}
		}
		seen[r.ID] = true
		if r.RiskScore < 0 {
			return &ConfigurationError{QuestionID: questionID, Reason: "numeric range has a negative risk score", RangeIDs: []string{r.ID}}
		}
		if lower(r) > upper(r) {
			return &ConfigurationError{QuestionID: questionID, Reason: "numeric range lower bound exceeds upper bound", RangeIDs: []string{r.ID}}
		}
	}
	sorted := sortedRanges(ranges)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if upper(prev) >= lower(cur) {
			return &ConfigurationError{
				QuestionID: questionID,
				Reason:     "overlapping numeric ranges",
				RangeIDs:   []string{rangeName(prev), rangeName(cur)},
			}
		}
	}
	return nil
}

// Gaps lists the uncovered intervals between adjacent, non-overlapping
// ranges. Ranges like [0,10] and [11,20] leave a gap that integral inputs
// never reach, so callers report gaps rather than reject them.
func Gaps(ranges []model.NumericRange) []Gap {
	sorted := sortedRanges(ranges)
	var gaps []Gap
	for i := 1; i < len(sorted); i++ {
		hi, lo := upper(sorted[i-1]), lower(sorted[i])
		if hi < lo {
			gaps = append(gaps, Gap{After: hi, Before: lo})
		}
	}
	return gaps
}

func sortedRanges(ranges []model.NumericRange) []model.NumericRange {
	sorted := make([]model.NumericRange, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lower(sorted[i]) < lower(sorted[j])
	})
	return sorted
}

func lower(r model.NumericRange) float64 {
	if r.Lower == nil {
		return math.Inf(-1)
	}
	return *r.Lower
}

func upper(r model.NumericRange) float64 {
	if r.Upper == nil {
		return math.Inf(1)
	}
	return *r.Upper
}

func rangeName(r model.NumericRange) string {
	if r.ID != "" {
		return r.ID
	}
	return r.Label
}
