package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/preflight/internal/model"
)

func TestParseAdvice(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"plain", `{"summary": "Rest first.", "mitigations": ["Sleep 8 hours", "Fly with an instructor"]}`, 2, false},
		{"fenced", "```json\n{\"summary\": \"ok\", \"mitigations\": []}\n```", 0, false},
		{"empty object", `{}`, 0, true},
		{"not json", `Get some sleep.`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAdvice(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAdvice: %v", err)
			}
			if len(got.Mitigations) != tt.want {
				t.Errorf("expected %d mitigations, got %d", tt.want, len(got.Mitigations))
			}
		})
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	if _, err := New("", "key", "model", "verbose"); err == nil {
		t.Error("expected error for unknown variant")
	}
	if _, err := New("", "key", "model", "brief"); err != nil {
		t.Errorf("New(brief): %v", err)
	}
}

// fakeOpenAI serves just enough of the OpenAI API for the client.
func fakeOpenAI(t *testing.T, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"id": "test-model", "object": "model"}},
			})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if len(req.Messages) > 0 && gotPrompt != nil {
				*gotPrompt = req.Messages[0].Content
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPing(t *testing.T) {
	srv := fakeOpenAI(t, "", nil)

	c, err := New(srv.URL+"/v1", "key", "test-model", "brief")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	c, _ = New(srv.URL+"/v1", "key", "other-model", "brief")
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for unserved model")
	}
}

func TestAdvise(t *testing.T) {
	var prompt string
	srv := fakeOpenAI(t, `{"summary": "Too tired to fly.", "mitigations": ["Reschedule after rest"]}`, &prompt)

	c, err := New(srv.URL+"/v1", "key", "test-model", "brief")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	questions := []model.Question{{
		ID: "q-sleep", Text: "Hours of sleep?", Type: model.QuestionChoice,
		Options: []model.AnswerOption{{ID: "o-short", Label: "Less than 5", RiskScore: 5}},
	}}
	a := &model.Assessment{
		ID: "a1", TotalScore: 5, MaxAllowedScore: 4, Result: model.ResultNoGo,
		Responses: []model.ScoredResponse{{QuestionID: "q-sleep", OptionID: "o-short", Score: 5}},
	}

	advice, err := c.Advise(context.Background(), a, questions)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.Summary != "Too tired to fly." || len(advice.Mitigations) != 1 {
		t.Errorf("unexpected advice: %+v", advice)
	}
	if !strings.Contains(prompt, "Hours of sleep?: Less than 5 (score 5)") {
		t.Errorf("prompt should list the factor, got:\n%s", prompt)
	}
}
