// Package bank reads question bank files and loads them into the store.
//
// A bank is a JSON or YAML document holding an optional configuration and a
// list of categories, each with its questions:
//
//	config:
//	  name: Solo flight
//	  max_allowed_score: 20
//	categories:
//	  - id: pilot
//	    name: Pilot
//	    questions:
//	      - id: q-sleep
//	        text: Hours of sleep last night?
//	        type: choice
//	        options:
//	          - {label: "8 or more", risk_score: 0}
//	          - {label: "Less than 5", risk_score: 5}
package bank

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/preflight/internal/model"
	"github.com/pavelanni/preflight/internal/risk"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// File is the on-disk layout of a question bank.
type File struct {
	Config     *ConfigFile    `json:"config,omitempty" yaml:"config,omitempty"`
	Categories []CategoryFile `json:"categories" yaml:"categories" validate:"required,min=1,dive"`
}

// ConfigFile is the optional configuration shipped with a bank.
type ConfigFile struct {
	Name            string `json:"name" yaml:"name" validate:"required"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	MaxAllowedScore int    `json:"max_allowed_score" yaml:"max_allowed_score" validate:"gte=0"`
}

// CategoryFile groups questions in a bank.
type CategoryFile struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Questions   []QuestionFile `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

// QuestionFile is one question in a bank. Active defaults to true.
type QuestionFile struct {
	ID            string       `json:"id,omitempty" yaml:"id,omitempty"`
	Text          string       `json:"text" yaml:"text" validate:"required"`
	HelpText      string       `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Type          string       `json:"type" yaml:"type" validate:"required,oneof=choice numeric_range"`
	Active        *bool        `json:"active,omitempty" yaml:"active,omitempty"`
	Disqualifying bool         `json:"disqualifying,omitempty" yaml:"disqualifying,omitempty"`
	Options       []OptionFile `json:"options,omitempty" yaml:"options,omitempty" validate:"required_if=Type choice,dive"`
	Ranges        []RangeFile  `json:"ranges,omitempty" yaml:"ranges,omitempty" validate:"required_if=Type numeric_range,dive"`
}

// OptionFile is an answer option of a choice question.
type OptionFile struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Label         string `json:"label" yaml:"label" validate:"required"`
	RiskScore     int    `json:"risk_score" yaml:"risk_score" validate:"gte=0"`
	Disqualifying bool   `json:"disqualifying,omitempty" yaml:"disqualifying,omitempty"`
}

// RangeFile is a scored interval of a numeric_range question.
type RangeFile struct {
	ID            string   `json:"id,omitempty" yaml:"id,omitempty"`
	Lower         *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper         *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
	RiskScore     int      `json:"risk_score" yaml:"risk_score" validate:"gte=0"`
	Disqualifying bool     `json:"disqualifying,omitempty" yaml:"disqualifying,omitempty"`
	Label         string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// Parse decodes a bank by file extension (.json, .yaml, .yml), validates it
// and checks every question's options and ranges. Gaps between ranges are
// logged, not rejected.
func Parse(name string, data []byte) (model.QuestionBank, error) {
	var f File
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return model.QuestionBank{}, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return model.QuestionBank{}, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return model.QuestionBank{}, fmt.Errorf("unsupported bank format %q", filepath.Ext(name))
	}

	if err := validate.Struct(&f); err != nil {
		return model.QuestionBank{}, fmt.Errorf("validate %s: %w", name, describe(err))
	}

	b := f.toModel()
	if err := checkUniqueIDs(b); err != nil {
		return model.QuestionBank{}, fmt.Errorf("%s: %w", name, err)
	}
	for _, q := range b.Questions {
		if err := checkQuestion(name, q); err != nil {
			return model.QuestionBank{}, err
		}
	}
	return b, nil
}

// Question validates a single question payload with the rules applied to
// bank files and converts it for storage under categoryID.
func Question(qf QuestionFile, categoryID string, order int) (model.Question, error) {
	if err := validate.Struct(&qf); err != nil {
		return model.Question{}, describe(err)
	}
	q := qf.toModel(categoryID, order)
	if err := checkQuestion("", q); err != nil {
		return model.Question{}, err
	}
	return q, nil
}

func checkQuestion(name string, q model.Question) error {
	if err := risk.CheckQuestion(q); err != nil {
		if name == "" {
			return err
		}
		return fmt.Errorf("%s: question %q: %w", name, q.Text, err)
	}
	for _, g := range risk.Gaps(q.Ranges) {
		slog.Warn("numeric ranges leave a gap",
			"file", name, "question", q.Text, "after", g.After, "before", g.Before)
	}
	return nil
}

// checkUniqueIDs rejects category and question ids repeated within a bank.
// Option and range ids only need to be unique within their question.
func checkUniqueIDs(b model.QuestionBank) error {
	cats := make(map[string]bool, len(b.Categories))
	for _, c := range b.Categories {
		if cats[c.ID] {
			return fmt.Errorf("duplicate category id %q", c.ID)
		}
		cats[c.ID] = true
	}
	questions := make(map[string]bool, len(b.Questions))
	for _, q := range b.Questions {
		if q.ID == "" {
			continue
		}
		if questions[q.ID] {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		questions[q.ID] = true
	}
	return nil
}

func (f File) toModel() model.QuestionBank {
	var b model.QuestionBank
	if f.Config != nil {
		b.Config = &model.Config{
			Name:            f.Config.Name,
			Description:     f.Config.Description,
			MaxAllowedScore: f.Config.MaxAllowedScore,
		}
	}
	order := 0
	for ci, c := range f.Categories {
		b.Categories = append(b.Categories, model.Category{
			ID: c.ID, Name: c.Name, Description: c.Description, DisplayOrder: ci,
		})
		for _, qf := range c.Questions {
			b.Questions = append(b.Questions, qf.toModel(c.ID, order))
			order++
		}
	}
	return b
}

func (qf QuestionFile) toModel(categoryID string, order int) model.Question {
	q := model.Question{
		ID:            qf.ID,
		CategoryID:    categoryID,
		Text:          qf.Text,
		HelpText:      qf.HelpText,
		Type:          model.QuestionType(qf.Type),
		Active:        qf.Active == nil || *qf.Active,
		Disqualifying: qf.Disqualifying,
		DisplayOrder:  order,
	}
	for i, o := range qf.Options {
		q.Options = append(q.Options, model.AnswerOption{
			ID: o.ID, QuestionID: qf.ID, Label: o.Label, RiskScore: o.RiskScore,
			Disqualifying: o.Disqualifying, DisplayOrder: i,
		})
	}
	for i, r := range qf.Ranges {
		q.Ranges = append(q.Ranges, model.NumericRange{
			ID: r.ID, QuestionID: qf.ID, Lower: r.Lower, Upper: r.Upper, RiskScore: r.RiskScore,
			Disqualifying: r.Disqualifying, Label: r.Label, DisplayOrder: i,
		})
	}
	return q
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Hash returns the hex SHA-256 of a bank file's contents.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
