package models

import "time"

// Opportunity is a single sourced solicitation before scoring.
type Opportunity struct {
	NoticeID           string     `json:"notice_id"`
	SolicitationNumber string     `json:"solicitation_number,omitempty"`
	Title              string     `json:"title"`
	Agency             string     `json:"agency"`
	Description        string     `json:"description"`
	PostedDate         time.Time  `json:"posted_date"`
	ResponseDeadline   *time.Time `json:"response_deadline,omitempty"`
	NAICSCode          string     `json:"naics_code,omitempty"`
	SetAside           string     `json:"set_aside,omitempty"`
	PlaceOfPerformance string     `json:"place_of_performance,omitempty"`
	URL                string     `json:"url"`
}

type QualificationLevel string

const (
	LevelQualified QualificationLevel = "qualified"
	LevelMaybe     QualificationLevel = "maybe"
	LevelRejected  QualificationLevel = "rejected"
)

// Bucket thresholds. These are part of the run contract and are not tunable
// per run.
const (
	QualifiedMinScore = 7.0
	MaybeMinScore     = 4.0
)

func LevelForScore(score float64) QualificationLevel {
	switch {
	case score >= QualifiedMinScore:
		return LevelQualified
	case score >= MaybeMinScore:
		return LevelMaybe
	default:
		return LevelRejected
	}
}

// Assessment is the scorer's structured verdict on one opportunity.
type Assessment struct {
	Score            float64            `json:"relevance_score"`
	Qualified        bool               `json:"is_qualified"`
	Level            QualificationLevel `json:"qualification_level"`
	Justification    string             `json:"justification"`
	Requirements     []string           `json:"key_requirements"`
	Advantages       []string           `json:"company_advantages"`
	Approach         string             `json:"suggested_approach"`
	AIApplication    string             `json:"ai_application,omitempty"`
	RiskFactors      []string           `json:"uncertainty_factors,omitempty"`
	ModelUsed        string             `json:"model_used"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
}

type ProcessedOpportunity struct {
	Opportunity Opportunity `json:"opportunity"`
	Assessment  Assessment  `json:"assessment"`
}
