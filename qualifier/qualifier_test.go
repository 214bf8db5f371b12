package qualifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"rfp_scout/models"
)

func TestParseAssessment_JSON(t *testing.T) {
	reply := "Here is my assessment:\n```json\n" + `{
  "relevance_score": 8.5,
  "is_qualified": true,
  "justification": "Strong fit {with braces} in text",
  "key_requirements": ["ML pipeline", "FedRAMP"],
  "company_advantages": ["Prior DoD work"],
  "suggested_approach": "Prime",
  "ai_application": "Predictive maintenance",
  "uncertainty_factors": ["Short timeline"]
}` + "\n```"

	got, err := parseAssessment(reply)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := &models.Assessment{
		Score:         8.5,
		Qualified:     true,
		Level:         models.LevelQualified,
		Justification: "Strong fit {with braces} in text",
		Requirements:  []string{"ML pipeline", "FedRAMP"},
		Advantages:    []string{"Prior DoD work"},
		Approach:      "Prime",
		AIApplication: "Predictive maintenance",
		RiskFactors:   []string{"Short timeline"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("assessment mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAssessment_Fallbacks(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		wantScore float64
		wantLevel models.QualificationLevel
	}{
		{"string score", `{"relevance_score": "6/10"}`, 6, models.LevelMaybe},
		{"prose rating", "Overall rating: 3. Not a fit.", 3, models.LevelRejected},
		{"out of ten", "I would put this at 9 out of 10.", 9, models.LevelQualified},
		{"clamped", `{"relevance_score": 14}`, 10, models.LevelQualified},
		{"negative", `{"relevance_score": -2}`, 0, models.LevelRejected},
	}
	for _, tc := range cases {
		got, err := parseAssessment(tc.reply)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.name, err)
		}
		if got.Score != tc.wantScore || got.Level != tc.wantLevel {
			t.Fatalf("%s: got score %v level %s, want %v %s", tc.name, got.Score, got.Level, tc.wantScore, tc.wantLevel)
		}
	}

	if _, err := parseAssessment("I cannot assess this."); err == nil {
		t.Fatalf("expected error when no score is present")
	}
}

func TestParseAssessment_QualifiedNeedsScore(t *testing.T) {
	got, err := parseAssessment(`{"relevance_score": 5, "is_qualified": true}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Qualified {
		t.Fatalf("expected is_qualified to be overridden below threshold")
	}
}

func TestKeywordScorer(t *testing.T) {
	profile := models.CompanyProfile{
		Name:         "Acme Analytics",
		Capabilities: []string{"Computer Vision", "cloud migration"},
		NAICSCodes:   []string{"541511"},
	}
	opp := models.Opportunity{
		NoticeID:    "N-1",
		Title:       "Machine Learning and Computer Vision Platform",
		Description: "Includes data analytics dashboards.",
		NAICSCode:   "541511",
	}

	got, err := NewKeywordScorer().Assess(context.Background(), opp, "", profile)
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	// computer vision, machine learning, data analytics: 1 + 3*2 + 1 for NAICS
	if got.Score != 8 {
		t.Fatalf("expected score 8, got %v", got.Score)
	}
	if got.Level != models.LevelQualified || !got.Qualified {
		t.Fatalf("expected qualified, got %s", got.Level)
	}
	if got.ModelUsed != "keyword" {
		t.Fatalf("unexpected model %q", got.ModelUsed)
	}

	miss, _ := NewKeywordScorer().Assess(context.Background(), models.Opportunity{NoticeID: "N-2", Title: "Roof repair"}, "m", profile)
	if miss.Score != 1 || miss.Level != models.LevelRejected {
		t.Fatalf("expected rejected score 1, got %v %s", miss.Score, miss.Level)
	}
}

func newMockClaude(t *testing.T, handler http.HandlerFunc) *ClaudeScorer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	scorer, err := NewClaudeScorer("test-key", 512, nil, option.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}
	scorer.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
	return scorer
}

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    "msg_test123",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-haiku-4-5",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	})
}

func TestClaudeScorer_Assess(t *testing.T) {
	var gotModel atomic.Value
	scorer := newMockClaude(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotModel.Store(body.Model)
		if len(body.Messages) == 0 || !strings.Contains(body.Messages[0].Content[0].Text, "Data Lake Modernization") {
			http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad prompt"}}`, http.StatusBadRequest)
			return
		}
		writeMessage(w, `{"relevance_score": 7, "is_qualified": true, "justification": "Good fit"}`)
	})

	got, err := scorer.Assess(context.Background(), models.Opportunity{
		NoticeID: "N-1",
		Title:    "Data Lake Modernization",
	}, "claude-haiku-4-5", models.CompanyProfile{Name: "Acme"})
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if got.Score != 7 || got.Level != models.LevelQualified {
		t.Fatalf("unexpected assessment %+v", got)
	}
	if got.ModelUsed != "claude-haiku-4-5" || gotModel.Load() != "claude-haiku-4-5" {
		t.Fatalf("model not propagated: %q / %v", got.ModelUsed, gotModel.Load())
	}
}

func TestClaudeScorer_RetriesOverload(t *testing.T) {
	var calls atomic.Int32
	scorer := newMockClaude(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		writeMessage(w, "Score: 5")
	})

	got, err := scorer.Assess(context.Background(), models.Opportunity{NoticeID: "N-1", Title: "X"}, "m", models.CompanyProfile{})
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if got.Level != models.LevelMaybe {
		t.Fatalf("expected maybe, got %s", got.Level)
	}
}

func TestClaudeScorer_NonRetryable(t *testing.T) {
	var calls atomic.Int32
	scorer := newMockClaude(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := scorer.Assess(context.Background(), models.Opportunity{NoticeID: "N-9"}, "m", models.CompanyProfile{})
	var qErr *Error
	if !errors.As(err, &qErr) || qErr.NoticeID != "N-9" {
		t.Fatalf("expected *qualifier.Error for N-9, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries, got %d calls", calls.Load())
	}
}
