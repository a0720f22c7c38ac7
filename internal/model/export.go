package model

import "time"

// AssessmentExport is the top-level JSON structure for history export.
type AssessmentExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Config      *Config            `json:"active_config,omitempty"`
	Count       int                `json:"count"`
	Assessments []AssessmentRecord `json:"assessments"`
}

// AssessmentRecord holds one assessment with its breakdown resolved to display text.
type AssessmentRecord struct {
	ID              string         `json:"id"`
	LearnerID       string         `json:"student_id"`
	FlightSessionID string         `json:"flight_session_id,omitempty"`
	TotalScore      int            `json:"total_score"`
	MaxAllowedScore int            `json:"max_allowed_score"`
	Result          Result         `json:"result"`
	EffectiveResult Result         `json:"effective_result"`
	Disqualified    bool           `json:"has_disqualifying_answers"`
	CompletedAt     time.Time      `json:"completed_at"`
	Override        *Override      `json:"override,omitempty"`
	Answers         []AnswerRecord `json:"answers"`
}

// AnswerRecord is a single exported breakdown row.
type AnswerRecord struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Value         *float64 `json:"numeric_value,omitempty"`
	Score         int      `json:"risk_score"`
	Disqualifying bool     `json:"is_disqualifying"`
}
