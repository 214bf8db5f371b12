package qualifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"rfp_scout/identity"
	"rfp_scout/models"
)

var defaultTerms = []string{
	"artificial intelligence", "machine learning", "data analytics", "data science",
	"natural language", "computer vision", "predictive", "automation", "software development",
}

// KeywordScorer scores by overlap between the opportunity text and the
// profile's capabilities. It needs no network and is deterministic.
type KeywordScorer struct{}

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

func (k *KeywordScorer) Assess(ctx context.Context, opp models.Opportunity, model string, profile models.CompanyProfile) (*models.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{NoticeID: opp.NoticeID, Err: err}
	}
	start := time.Now()

	text := " " + identity.NormalizeText(opp.Title+" "+opp.Description) + " "
	terms := append(append([]string(nil), profile.Capabilities...), defaultTerms...)

	seen := make(map[string]bool)
	var matched []string
	for _, term := range terms {
		norm := identity.NormalizeText(term)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if strings.Contains(text, " "+norm+" ") {
			matched = append(matched, term)
		}
	}
	sort.Strings(matched)

	score := 1.0 + 2.0*float64(len(matched))
	naicsMatch := false
	for _, code := range profile.NAICSCodes {
		if code != "" && code == opp.NAICSCode {
			naicsMatch = true
			score++
			break
		}
	}
	score = clampScore(score)

	justification := "No capability keywords matched."
	if len(matched) > 0 {
		justification = fmt.Sprintf("Matched capabilities: %s.", strings.Join(matched, ", "))
	}
	if naicsMatch {
		justification += " NAICS code is in the company profile."
	}

	if model == "" {
		model = "keyword"
	}
	return &models.Assessment{
		Score:            score,
		Qualified:        score >= models.QualifiedMinScore,
		Level:            models.LevelForScore(score),
		Justification:    justification,
		Advantages:       matched,
		Approach:         "Review RFP details",
		ModelUsed:        model,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}
