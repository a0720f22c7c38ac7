package risk

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a response set that does not cover the active
// questions exactly once.
type ValidationError struct {
	Missing []string // active questions without a usable response
	Extra   []string // responses for unknown, inactive or already-answered questions
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing responses for questions "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected responses for questions "+strings.Join(e.Extra, ", "))
	}
	return "invalid response set: " + strings.Join(parts, "; ")
}

// QuestionIDs returns every question id named by the error.
func (e *ValidationError) QuestionIDs() []string {
	ids := make([]string, 0, len(e.Missing)+len(e.Extra))
	ids = append(ids, e.Missing...)
	return append(ids, e.Extra...)
}

// InvalidOptionError reports a choice response whose option does not belong
// to the question.
type InvalidOptionError struct {
	QuestionID string
	OptionID   string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("question %s: answer option %q does not belong to the question", e.QuestionID, e.OptionID)
}

// QuestionIDs returns the offending question.
func (e *InvalidOptionError) QuestionIDs() []string { return []string{e.QuestionID} }

// OutOfRangeError reports a numeric response that matches no configured range.
type OutOfRangeError struct {
	QuestionID string
	Value      float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("question %s: value %g is outside every configured range", e.QuestionID, e.Value)
}

// QuestionIDs returns the offending question.
func (e *OutOfRangeError) QuestionIDs() []string { return []string{e.QuestionID} }

// ConfigurationError reports reference data that cannot be evaluated:
// overlapping ranges, inverted bounds, negative scores or unknown question types.
type ConfigurationError struct {
	QuestionID string
	Reason     string
	RangeIDs   []string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("question %s: %s", e.QuestionID, e.Reason)
	if len(e.RangeIDs) > 0 {
		msg += " (ranges " + strings.Join(e.RangeIDs, ", ") + ")"
	}
	return msg
}

// QuestionIDs returns the offending question.
func (e *ConfigurationError) QuestionIDs() []string { return []string{e.QuestionID} }

// Kind classifies an evaluator error for callers that surface it to users or
// metrics. It returns an empty string for errors not produced by this package.
func Kind(err error) string {
	var (
		ve *ValidationError
		ie *InvalidOptionError
		oe *OutOfRangeError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ie):
		return "invalid_option"
	case errors.As(err, &oe):
		return "out_of_range"
	case errors.As(err, &ce):
		return "configuration"
	}
	return ""
}

// QuestionIDs extracts the offending question ids from an evaluator error.
func QuestionIDs(err error) []string {
	var q interface{ QuestionIDs() []string }
	if errors.As(err, &q) {
		return q.QuestionIDs()
	}
	return nil
}
