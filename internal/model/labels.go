package model

import "strconv"

// LabelLookup resolves ids in a scored breakdown to display text. Option and
// range ids are only unique within their question.
type LabelLookup struct {
	questions map[string]string
	options   map[string]string
	ranges    map[string]string
}

// NewLabelLookup indexes the given questions with their options and ranges.
func NewLabelLookup(questions []Question) *LabelLookup {
	l := &LabelLookup{
		questions: make(map[string]string),
		options:   make(map[string]string),
		ranges:    make(map[string]string),
	}
	for _, q := range questions {
		l.questions[q.ID] = q.Text
		for _, o := range q.Options {
			l.options[childKey(q.ID, o.ID)] = o.Label
		}
		for _, r := range q.Ranges {
			l.ranges[childKey(q.ID, r.ID)] = r.Label
		}
	}
	return l
}

func childKey(questionID, id string) string {
	return questionID + "\x00" + id
}

// Question returns the question text, or the id when unknown.
func (l *LabelLookup) Question(id string) string {
	if text, ok := l.questions[id]; ok {
		return text
	}
	return id
}

// Answer describes the resolved option or range of a scored response.
func (l *LabelLookup) Answer(r ScoredResponse) string {
	if r.OptionID != "" {
		if label, ok := l.options[childKey(r.QuestionID, r.OptionID)]; ok {
			return label
		}
		return r.OptionID
	}
	if r.Value != nil {
		v := strconv.FormatFloat(*r.Value, 'f', -1, 64)
		if label := l.ranges[childKey(r.QuestionID, r.RangeID)]; label != "" {
			return v + " (" + label + ")"
		}
		return v
	}
	return ""
}
