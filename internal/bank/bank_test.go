package bank

import (
	"os"
	"strings"
	"testing"

	"github.com/pavelanni/preflight/internal/model"
	"github.com/pavelanni/preflight/internal/risk"
	"github.com/pavelanni/preflight/internal/store"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read testdata: %v", err)
	}
	return data
}

func TestParseYAML(t *testing.T) {
	b, err := Parse("solo.yaml", readTestdata(t, "solo.yaml"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if b.Config == nil || b.Config.Name != "Solo flight" || b.Config.MaxAllowedScore != 20 {
		t.Errorf("unexpected config: %+v", b.Config)
	}
	if len(b.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(b.Categories))
	}
	if len(b.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(b.Questions))
	}

	sleep := b.Questions[0]
	if sleep.ID != "q-sleep" || sleep.CategoryID != "pilot" || !sleep.Active {
		t.Errorf("unexpected first question: %+v", sleep)
	}
	if len(sleep.Options) != 3 || sleep.Options[2].RiskScore != 5 || sleep.Options[2].QuestionID != "q-sleep" {
		t.Errorf("unexpected sleep options: %+v", sleep.Options)
	}

	alcohol := b.Questions[1]
	if !alcohol.Disqualifying || !alcohol.Options[1].Disqualifying {
		t.Errorf("expected disqualifying flags on alcohol question: %+v", alcohol)
	}

	xw := b.Questions[2]
	if xw.Type != model.QuestionNumericRange || xw.CategoryID != "environment" || xw.DisplayOrder != 2 {
		t.Errorf("unexpected crosswind question: %+v", xw)
	}
	if xw.Ranges[2].Upper != nil || xw.Ranges[2].Lower == nil || *xw.Ranges[2].Lower != 11 {
		t.Errorf("expected open-ended last range, got %+v", xw.Ranges[2])
	}
}

func TestParseJSON(t *testing.T) {
	b, err := Parse("dual.json", readTestdata(t, "dual.json"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Config != nil {
		t.Errorf("expected no config, got %+v", b.Config)
	}
	if len(b.Questions) != 1 || len(b.Questions[0].Ranges) != 2 {
		t.Fatalf("unexpected questions: %+v", b.Questions)
	}
	if b.Questions[0].Ranges[0].Lower != nil {
		t.Error("expected open lower bound on first range")
	}
	if gaps := risk.Gaps(b.Questions[0].Ranges); len(gaps) != 1 {
		t.Errorf("expected the 4..5 gap to survive parsing, got %v", gaps)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		wantErr string
	}{
		{"unsupported extension", "bank.toml", `x = 1`, "unsupported bank format"},
		{"unknown yaml field", "b.yaml", `
categories:
  - id: c
    name: C
    colour: red
    questions: []
`, "colour"},
		{"unknown json field", "b.json", `{"categories": [], "extra": true}`, "extra"},
		{"no categories", "b.yaml", `categories: []`, "Categories: min"},
		{"bad type", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - text: Q
        type: slider
`, "Type: oneof"},
		{"choice without options", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - text: Q
        type: choice
`, "Options: required_if"},
		{"negative score", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - text: Q
        type: choice
        options:
          - {label: A, risk_score: -1}
`, "RiskScore: gte"},
		{"overlapping ranges", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - id: q
        text: Q
        type: numeric_range
        ranges:
          - {id: a, lower: 0, upper: 10, risk_score: 0}
          - {id: b, lower: 10, upper: 20, risk_score: 8}
`, "overlapping"},
		{"inverted range", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - text: Q
        type: numeric_range
        ranges:
          - {lower: 10, upper: 0, risk_score: 0}
`, "lower bound exceeds upper bound"},
		{"duplicate question id", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - {id: q, text: Q1, type: choice, options: [{label: A, risk_score: 0}]}
      - {id: q, text: Q2, type: choice, options: [{label: A, risk_score: 0}]}
`, `duplicate question id "q"`},
		{"duplicate category id", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - {text: Q1, type: choice, options: [{label: A, risk_score: 0}]}
  - id: c
    name: C again
    questions:
      - {text: Q2, type: choice, options: [{label: A, risk_score: 0}]}
`, `duplicate category id "c"`},
		{"duplicate option id in a question", "b.yaml", `
categories:
  - id: c
    name: C
    questions:
      - id: q
        text: Q
        type: choice
        options:
          - {id: yes, label: "Yes", risk_score: 3}
          - {id: yes, label: "Yes, a little", risk_score: 1}
`, "duplicate answer option id yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseInactiveQuestion(t *testing.T) {
	b, err := Parse("b.yaml", []byte(`
categories:
  - id: c
    name: C
    questions:
      - text: Retired question
        type: choice
        active: false
        options:
          - {label: A, risk_score: 0}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Questions[0].Active {
		t.Error("expected question to be inactive")
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImport(t *testing.T) {
	s := newTestStore(t)
	data := readTestdata(t, "solo.yaml")

	res, err := Import(s, "solo.yaml", data, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Status != StatusImported || res.Questions != 3 {
		t.Errorf("unexpected result: %+v", res)
	}

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Config.Name != "Solo flight" || len(snap.Questions) != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	t.Run("unchanged", func(t *testing.T) {
		res, err := Import(s, "solo.yaml", data, false)
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if res.Status != StatusUnchanged {
			t.Errorf("expected unchanged, got %s", res.Status)
		}
	})

	changed := []byte(strings.Replace(string(data), "Hours of sleep last night?", "Sleep in the last 24 hours?", 1))

	t.Run("changed is skipped", func(t *testing.T) {
		res, err := Import(s, "solo.yaml", changed, false)
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if res.Status != StatusChanged {
			t.Errorf("expected changed, got %s", res.Status)
		}
		q, _ := s.GetQuestion("q-sleep")
		if q.Text != "Hours of sleep last night?" {
			t.Errorf("question should not change, got %q", q.Text)
		}
	})

	t.Run("changed is replaced on request", func(t *testing.T) {
		res, err := Import(s, "solo.yaml", changed, true)
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if res.Status != StatusImported {
			t.Errorf("expected imported, got %s", res.Status)
		}
		q, _ := s.GetQuestion("q-sleep")
		if q.Text != "Sleep in the last 24 hours?" {
			t.Errorf("question should be updated, got %q", q.Text)
		}
		count, _ := s.QuestionCount()
		if count != 3 {
			t.Errorf("expected questions updated in place, got %d", count)
		}
	})
}

func TestImportSharedOptionIDs(t *testing.T) {
	s := newTestStore(t)
	data := []byte(`
config:
  name: Health
  max_allowed_score: 10
categories:
  - id: health
    name: Health
    questions:
      - id: q-ill
        text: Are you ill?
        type: choice
        options:
          - {id: "no", label: "No", risk_score: 0}
          - {id: "yes", label: "Yes", risk_score: 5}
      - id: q-tired
        text: Are you tired?
        type: choice
        options:
          - {id: "no", label: "No", risk_score: 0}
          - {id: "yes", label: "Yes", risk_score: 3}
      - id: q-wind
        text: Forecast wind (kt)?
        type: numeric_range
        ranges:
          - {id: low, upper: 10, risk_score: 0}
          - {id: high, lower: 11, risk_score: 4}
      - id: q-gust
        text: Gust spread (kt)?
        type: numeric_range
        ranges:
          - {id: low, upper: 5, risk_score: 0}
          - {id: high, lower: 6, risk_score: 2}
`)

	res, err := Import(s, "health.yaml", data, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Questions != 4 {
		t.Fatalf("expected 4 questions, got %d", res.Questions)
	}

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	for _, q := range snap.Questions {
		if len(q.Options)+len(q.Ranges) != 2 {
			t.Errorf("question %s: expected 2 options or ranges, got %d options, %d ranges",
				q.ID, len(q.Options), len(q.Ranges))
		}
	}

	wind, gust := 15.0, 3.0
	a, err := risk.New(0).Evaluate(risk.Input{
		LearnerID: "alice",
		Config:    snap.Config,
		Questions: snap.Questions,
		Responses: []model.Response{
			{QuestionID: "q-ill", OptionID: "no"},
			{QuestionID: "q-tired", OptionID: "yes"},
			{QuestionID: "q-wind", Value: &wind},
			{QuestionID: "q-gust", Value: &gust},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.TotalScore != 7 {
		t.Errorf("expected total 7, got %d", a.TotalScore)
	}

	labels := model.NewLabelLookup(snap.Questions)
	if got := labels.Answer(a.Responses[1]); got != "Yes" {
		t.Errorf("q-tired answer label = %q, want Yes", got)
	}
	if got := labels.Answer(a.Responses[2]); got != "15" {
		t.Errorf("q-wind answer label = %q, want 15", got)
	}

	t.Run("re-import keeps both option sets", func(t *testing.T) {
		changed := []byte(strings.Replace(string(data), "risk_score: 3", "risk_score: 2", 1))
		if _, err := Import(s, "health.yaml", changed, true); err != nil {
			t.Fatalf("Import: %v", err)
		}
		for _, id := range []string{"q-ill", "q-tired"} {
			q, err := s.GetQuestion(id)
			if err != nil {
				t.Fatalf("GetQuestion(%s): %v", id, err)
			}
			if len(q.Options) != 2 {
				t.Errorf("question %s: expected 2 options, got %d", id, len(q.Options))
			}
		}
		q, _ := s.GetQuestion("q-tired")
		if q.Options[1].RiskScore != 2 {
			t.Errorf("q-tired yes should be rescored to 2, got %d", q.Options[1].RiskScore)
		}
	})
}

func TestImportInvalidBankRecordsNothing(t *testing.T) {
	s := newTestStore(t)

	_, err := Import(s, "bad.yaml", []byte(`categories: []`), false)
	if err == nil {
		t.Fatal("expected error")
	}
	hash, _ := s.GetImportedFileHash("bad.yaml")
	if hash != "" {
		t.Errorf("failed import should not be recorded, got hash %q", hash)
	}
}

func TestImportFile(t *testing.T) {
	s := newTestStore(t)

	res, err := ImportFile(s, "testdata/dual.json", false)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Questions != 1 {
		t.Errorf("expected 1 question, got %d", res.Questions)
	}
	if _, err := ImportFile(s, "testdata/missing.json", false); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestQuestion(t *testing.T) {
	lo, hi := 0.0, 10.0
	tests := []struct {
		name    string
		qf      QuestionFile
		wantErr string
	}{
		{"valid choice", QuestionFile{Text: "Q", Type: "choice", Options: []OptionFile{{Label: "A"}}}, ""},
		{"valid range", QuestionFile{Text: "Q", Type: "numeric_range", Ranges: []RangeFile{{Lower: &lo, Upper: &hi}}}, ""},
		{"missing text", QuestionFile{Type: "choice", Options: []OptionFile{{Label: "A"}}}, "Text: required"},
		{"empty options", QuestionFile{Text: "Q", Type: "choice", Options: []OptionFile{}}, "no answer options"},
		{"inverted range", QuestionFile{Text: "Q", Type: "numeric_range", Ranges: []RangeFile{{Lower: &hi, Upper: &lo}}}, "lower bound exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Question(tt.qf, "pilot", 4)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Question: %v", err)
				}
				if q.CategoryID != "pilot" || q.DisplayOrder != 4 || !q.Active {
					t.Errorf("unexpected question: %+v", q)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v should contain %q", err, tt.wantErr)
			}
		})
	}
}
