package source

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"rfp_scout/config"
	"rfp_scout/models"
)

// Query is the subset of a run's search configuration the feed needs.
type Query struct {
	Keywords        []string
	DaysBack        int
	MaxItems        int
	ExcludeKeywords []string
	IncludeNAICS    []string
}

func QueryFor(cfg models.SearchConfig) Query {
	return Query{
		Keywords:        cfg.Keywords,
		DaysBack:        cfg.DaysBack,
		MaxItems:        cfg.MaxItems,
		ExcludeKeywords: cfg.ExcludeKeywords,
		IncludeNAICS:    cfg.IncludeNAICS,
	}
}

// Source returns the opportunities matching a query, already filtered and
// capped at q.MaxItems.
type Source interface {
	Search(ctx context.Context, q Query) ([]models.Opportunity, error)
}

// Error is returned when a feed cannot be searched at all. It is fatal to
// the run that asked.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s search failed: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New picks SAM.gov when an API key is configured and the demo feed otherwise.
func New(cfg config.SAMConfig, client *http.Client) Source {
	if cfg.UseMock || cfg.APIKey == "" {
		log.Printf("[Source] No SAM.gov API key configured, using demo opportunities")
		return NewMockSource()
	}
	return NewSAMSource(cfg, client)
}
