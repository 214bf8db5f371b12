package models

import "strings"

type RunMode string

const (
	RunModeTest     RunMode = "test"
	RunModeNormal   RunMode = "normal"
	RunModeOverkill RunMode = "overkill"
)

const (
	minDaysBack  = 1
	maxDaysBack  = 30
	minMaxItems  = 1
	maxMaxItems  = 20000
	minBatchSize = 1
	maxBatchSize = 128
)

// SearchConfig is captured into every Run and Schedule. A run's copy is never
// modified once the run starts.
type SearchConfig struct {
	Keywords        []string `json:"search_keywords" yaml:"search_keywords"`
	DaysBack        int      `json:"days_back" yaml:"days_back"`
	MaxItems        int      `json:"max_rfps" yaml:"max_rfps"`
	ModelName       string   `json:"model_name" yaml:"model_name"`
	RunMode         RunMode  `json:"run_mode" yaml:"run_mode"`
	BatchSize       int      `json:"batch_size" yaml:"batch_size"`
	IncludeNAICS    []string `json:"include_naics,omitempty" yaml:"include_naics"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty" yaml:"exclude_keywords"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Keywords:        []string{"artificial intelligence", "machine learning", "data analytics"},
		DaysBack:        3,
		MaxItems:        200,
		RunMode:         RunModeNormal,
		BatchSize:       32,
		IncludeNAICS:    []string{"541511", "541512", "541519", "518210"},
		ExcludeKeywords: []string{"janitorial", "food service", "construction"},
	}
}

// Normalize fills zero values from the defaults and clamps numeric fields to
// their allowed ranges. defaultModel is used when no model is named.
func (c SearchConfig) Normalize(defaultModel string) SearchConfig {
	def := DefaultSearchConfig()
	out := c.Clone()

	out.Keywords = cleanList(out.Keywords)
	if len(out.Keywords) == 0 {
		out.Keywords = def.Keywords
	}
	if out.DaysBack == 0 {
		out.DaysBack = def.DaysBack
	}
	if out.MaxItems == 0 {
		out.MaxItems = def.MaxItems
	}
	if out.BatchSize == 0 {
		out.BatchSize = def.BatchSize
	}
	if out.RunMode == "" {
		out.RunMode = def.RunMode
	}
	if strings.TrimSpace(out.ModelName) == "" {
		out.ModelName = defaultModel
	}
	out.DaysBack = clamp(out.DaysBack, minDaysBack, maxDaysBack)
	out.MaxItems = clamp(out.MaxItems, minMaxItems, maxMaxItems)
	out.BatchSize = clamp(out.BatchSize, minBatchSize, maxBatchSize)
	out.IncludeNAICS = cleanList(out.IncludeNAICS)
	out.ExcludeKeywords = cleanList(out.ExcludeKeywords)
	return out
}

func (c SearchConfig) Clone() SearchConfig {
	out := c
	out.Keywords = append([]string(nil), c.Keywords...)
	out.IncludeNAICS = append([]string(nil), c.IncludeNAICS...)
	out.ExcludeKeywords = append([]string(nil), c.ExcludeKeywords...)
	return out
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
