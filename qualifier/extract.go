package qualifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"rfp_scout/models"
)

var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:score|rating)["']?[:\s]*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:/|out of)\s*10`),
	regexp.MustCompile(`(?:give|rate|score)[^\d]*(\d+(?:\.\d+)?)`),
}

type rawAssessment struct {
	Score         json.RawMessage `json:"relevance_score"`
	Qualified     *bool           `json:"is_qualified"`
	Justification string          `json:"justification"`
	Requirements  []string        `json:"key_requirements"`
	Advantages    []string        `json:"company_advantages"`
	Approach      string          `json:"suggested_approach"`
	AIApplication string          `json:"ai_application"`
	RiskFactors   []string        `json:"uncertainty_factors"`
}

// parseAssessment reads the model reply. It prefers the first JSON object in
// the text and falls back to pulling a bare score out of prose.
func parseAssessment(text string) (*models.Assessment, error) {
	if obj := firstJSONObject(text); obj != "" {
		var raw rawAssessment
		if err := json.Unmarshal([]byte(obj), &raw); err == nil {
			if score, ok := parseScore(raw.Score); ok {
				return buildAssessment(score, raw), nil
			}
		}
	}

	score, ok := extractScore(text)
	if !ok {
		return nil, fmt.Errorf("no relevance score in model response")
	}
	return buildAssessment(score, rawAssessment{
		Justification: strings.TrimSpace(truncate(text, 1000)),
	}), nil
}

func buildAssessment(score float64, raw rawAssessment) *models.Assessment {
	score = clampScore(score)
	a := &models.Assessment{
		Score:         score,
		Qualified:     score >= models.QualifiedMinScore,
		Level:         models.LevelForScore(score),
		Justification: raw.Justification,
		Requirements:  raw.Requirements,
		Advantages:    raw.Advantages,
		Approach:      raw.Approach,
		AIApplication: raw.AIApplication,
		RiskFactors:   raw.RiskFactors,
	}
	if raw.Qualified != nil {
		a.Qualified = *raw.Qualified && score >= models.QualifiedMinScore
	}
	if a.Justification == "" {
		a.Justification = "Analysis completed"
	}
	if a.Approach == "" {
		a.Approach = "Review RFP details"
	}
	return a
}

// firstJSONObject returns the first balanced {...} span, ignoring braces
// inside strings.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func parseScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, ok := extractScore(s); ok {
			return v, true
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func extractScore(text string) (float64, bool) {
	lower := strings.ToLower(text)
	for _, re := range scorePatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil && v <= 10 {
			return v, true
		}
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
