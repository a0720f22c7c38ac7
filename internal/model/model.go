package model

import (
	"context"
	"math"
	"time"
)

// UserRole represents a user's access level as asserted by the fronting auth service.
type UserRole string

const (
	// UserRoleStudent is a learner pilot.
	UserRoleStudent UserRole = "student"
	// UserRoleInstructor is a flight instructor.
	UserRoleInstructor UserRole = "instructor"
	// UserRoleAdmin is a school administrator.
	UserRoleAdmin UserRole = "admin"
)

// User is the caller identity attached to a request.
type User struct {
	ID   string
	Role UserRole
}

// CanReview reports whether the user may act on other learners' assessments.
func (u *User) CanReview() bool {
	return u != nil && (u.Role == UserRoleInstructor || u.Role == UserRoleAdmin)
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the caller from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// QuestionType selects how a response to a question is resolved to a score.
type QuestionType string

const (
	QuestionChoice       QuestionType = "choice"
	QuestionNumericRange QuestionType = "numeric_range"
)

// Result is the go/no-go determination of an assessment.
type Result string

const (
	ResultGo      Result = "go"
	ResultCaution Result = "caution"
	ResultNoGo    Result = "no_go"
)

// Valid reports whether r is one of the known results.
func (r Result) Valid() bool {
	switch r {
	case ResultGo, ResultCaution, ResultNoGo:
		return true
	}
	return false
}

// Category groups questions on the form (pilot, aircraft, environment, ...).
type Category struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

// Question is a single item of the risk questionnaire.
type Question struct {
	ID            string         `json:"id"`
	CategoryID    string         `json:"category_id"`
	Text          string         `json:"text"`
	HelpText      string         `json:"help_text,omitempty"`
	Type          QuestionType   `json:"type"`
	Active        bool           `json:"active"`
	Disqualifying bool           `json:"disqualifying"`
	DisplayOrder  int            `json:"display_order"`
	Options       []AnswerOption `json:"options,omitempty"`
	Ranges        []NumericRange `json:"ranges,omitempty"`
}

// AnswerOption is a scored answer to a choice question.
type AnswerOption struct {
	ID            string `json:"id"`
	QuestionID    string `json:"question_id"`
	Label         string `json:"label"`
	RiskScore     int    `json:"risk_score"`
	Disqualifying bool   `json:"is_disqualifying"`
	DisplayOrder  int    `json:"display_order"`
}

// NumericRange is a scored interval of a numeric_range question.
// A nil bound is unbounded on that side.
type NumericRange struct {
	ID            string   `json:"id"`
	QuestionID    string   `json:"question_id"`
	Lower         *float64 `json:"lower"`
	Upper         *float64 `json:"upper"`
	RiskScore     int      `json:"risk_score"`
	Disqualifying bool     `json:"is_disqualifying"`
	Label         string   `json:"label,omitempty"`
	DisplayOrder  int      `json:"display_order"`
}

// Contains reports whether v lies in the inclusive interval [Lower, Upper].
func (r NumericRange) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Lower != nil && v < *r.Lower {
		return false
	}
	if r.Upper != nil && v > *r.Upper {
		return false
	}
	return true
}

// Config holds the scoring threshold applied to all assessments while active.
type Config struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	MaxAllowedScore int       `json:"max_allowed_score"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Snapshot is the reference data one evaluation runs against.
type Snapshot struct {
	Config    Config     `json:"config"`
	Questions []Question `json:"questions"`
}

// Response is a learner's answer to one question.
type Response struct {
	QuestionID string   `json:"question_id"`
	OptionID   string   `json:"answer_option_id,omitempty"`
	Value      *float64 `json:"numeric_value,omitempty"`
}

// ScoredResponse is a response resolved against reference data.
type ScoredResponse struct {
	QuestionID    string   `json:"question_id"`
	OptionID      string   `json:"answer_option_id,omitempty"`
	RangeID       string   `json:"numeric_range_id,omitempty"`
	Value         *float64 `json:"numeric_value,omitempty"`
	Score         int      `json:"risk_score"`
	Disqualifying bool     `json:"is_disqualifying"`
}

// Override is an instructor's after-the-fact decision on an assessment.
type Override struct {
	ID           int64     `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	InstructorID string    `json:"instructor_id"`
	Reason       string    `json:"reason"`
	Result       Result    `json:"result"`
	CreatedAt    time.Time `json:"created_at"`
}

// Assessment is the immutable outcome of one submission.
type Assessment struct {
	ID              string           `json:"id"`
	LearnerID       string           `json:"student_id"`
	ConfigID        string           `json:"config_id"`
	FlightSessionID string           `json:"flight_session_id,omitempty"`
	MissionID       string           `json:"mission_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Responses       []ScoredResponse `json:"responses,omitempty"`
	TotalScore      int              `json:"total_score"`
	MaxAllowedScore int              `json:"max_allowed_score"`
	Disqualified    bool             `json:"has_disqualifying_answers"`
	Passed          bool             `json:"passed"`
	Result          Result           `json:"result"`
	CompletedAt     time.Time        `json:"completed_at"`
	Override        *Override        `json:"override,omitempty"`
}

// EffectiveResult is the latest override's result, or the computed one.
func (a *Assessment) EffectiveResult() Result {
	if a.Override != nil {
		return a.Override.Result
	}
	return a.Result
}

// AssessmentFilter narrows history queries. Zero values mean no filtering.
type AssessmentFilter struct {
	LearnerID string
	Result    Result // matched against the effective result
	Limit     int
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string        // URL prefix for sub-path deployments
	CautionRatio  float64       // fraction of max score that starts the caution band (0 disables)
	AdviceTimeout time.Duration // upper bound on LLM advice per submission
	MaxUploadSize int64
}

// QuestionBank is a batch of reference data loaded from a bank file.
type QuestionBank struct {
	Config     *Config
	Categories []Category
	Questions  []Question
}
