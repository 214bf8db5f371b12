// Package qualifier scores opportunities against the company profile.
package qualifier

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"rfp_scout/config"
	"rfp_scout/models"
)

// Scorer assesses one opportunity. Implementations must be safe for
// concurrent use; the executor calls Assess from a bounded worker pool.
type Scorer interface {
	Assess(ctx context.Context, opp models.Opportunity, model string, profile models.CompanyProfile) (*models.Assessment, error)
}

// Error is a per-opportunity scoring failure. It never fails a run.
type Error struct {
	NoticeID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("score %s: %v", e.NoticeID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns the Claude scorer when an API key is configured and the
// offline keyword scorer otherwise.
func New(cfg config.AnthropicConfig, client *http.Client) (Scorer, error) {
	if cfg.APIKey == "" {
		log.Printf("[Qualifier] No ANTHROPIC_API_KEY set, using keyword scorer")
		return NewKeywordScorer(), nil
	}
	return NewClaudeScorer(cfg.APIKey, cfg.MaxTokens, client)
}
