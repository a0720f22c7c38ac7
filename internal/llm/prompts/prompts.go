package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/preflight/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var notesTagRegex = regexp.MustCompile(`(?i)</?\s*student-notes\b[^>]*>`)

const maxNotesRunes = 2000

// Variant selects how much detail the advice prompt asks for.
type Variant string

const (
	// VariantBrief asks for at most three one-line mitigations.
	VariantBrief Variant = "brief"
	// VariantDetailed asks for a coaching-style explanation.
	VariantDetailed Variant = "detailed"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Variant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	switch Variant(v) {
	case VariantBrief, VariantDetailed:
		return true
	}
	return false
}

// Factor is one scored answer as shown to the model.
type Factor struct {
	Question      string
	Answer        string
	Score         int
	Disqualifying bool
}

// AdviceData holds template data for advice prompts.
type AdviceData struct {
	Result          model.Result
	TotalScore      int
	MaxAllowedScore int
	Disqualified    bool
	Factors         []Factor
	Notes           string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[Variant]*template.Template)
		for _, v := range []Variant{VariantBrief, VariantDetailed} {
			name := "templates/advice_" + string(v) + ".txt"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// NewAdviceData collects the scoring factors of an assessment, highest score
// first. Zero-score answers are left out unless they are disqualifying.
func NewAdviceData(a *model.Assessment, labels *model.LabelLookup) AdviceData {
	data := AdviceData{
		Result:          a.Result,
		TotalScore:      a.TotalScore,
		MaxAllowedScore: a.MaxAllowedScore,
		Disqualified:    a.Disqualified,
		Notes:           a.Notes,
	}
	for _, r := range a.Responses {
		if r.Score == 0 && !r.Disqualifying {
			continue
		}
		data.Factors = append(data.Factors, Factor{
			Question:      labels.Question(r.QuestionID),
			Answer:        labels.Answer(r),
			Score:         r.Score,
			Disqualifying: r.Disqualifying,
		})
	}
	sort.SliceStable(data.Factors, func(i, j int) bool {
		if data.Factors[i].Disqualifying != data.Factors[j].Disqualifying {
			return data.Factors[i].Disqualifying
		}
		return data.Factors[i].Score > data.Factors[j].Score
	})
	return data
}

// BuildAdvicePrompt renders the system prompt for the given variant.
func BuildAdvicePrompt(variant Variant, data AdviceData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data.Notes = sanitizeNotes(data.Notes)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeNotes(notes string) string {
	notes = notesTagRegex.ReplaceAllString(notes, "")
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesRunes {
		runes := []rune(notes)
		notes = string(runes[:maxNotesRunes]) + "\n[notes truncated]"
	}
	return notes
}
