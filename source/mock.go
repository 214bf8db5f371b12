package source

import (
	"context"
	"time"

	"rfp_scout/models"
)

// MockSource serves a fixed set of demo notices, dated relative to now.
type MockSource struct {
	now func() time.Time
}

func NewMockSource() *MockSource {
	return &MockSource{now: time.Now}
}

func (m *MockSource) Search(ctx context.Context, q Query) ([]models.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Source: "mock", Err: err}
	}
	opps := MatchKeywords(m.opportunities(), q.Keywords)
	return Filter(opps, q), nil
}

func (m *MockSource) opportunities() []models.Opportunity {
	now := m.now()
	deadline := func(days int) *time.Time {
		t := now.AddDate(0, 0, days)
		return &t
	}

	return []models.Opportunity{
		{
			NoticeID:           "RFP-2025-001",
			SolicitationNumber: "FA8750-25-R-0001",
			Title:              "Artificial Intelligence and Machine Learning Platform Development",
			Agency:             "Department of Defense / Air Force Research Laboratory",
			Description:        "The Air Force Research Laboratory seeks an AI/ML platform for advanced data analytics and predictive modeling. The system must support large-scale data processing, real-time inference, and model training capabilities.",
			PostedDate:         now.AddDate(0, 0, -2),
			ResponseDeadline:   deadline(30),
			NAICSCode:          "541511",
			SetAside:           "Small Business",
			PlaceOfPerformance: "Wright-Patterson AFB, OH",
			URL:                "https://sam.gov/opp/RFP-2025-001/view",
		},
		{
			NoticeID:           "RFP-2025-002",
			SolicitationNumber: "W15P7T-25-R-D003",
			Title:              "Cloud Infrastructure Migration and Modernization Services",
			Agency:             "Department of the Army / CECOM",
			Description:        "Seeking contractor support for migrating legacy applications to cloud infrastructure. Requirements include AWS/Azure expertise, containerization, and DevOps automation.",
			PostedDate:         now.AddDate(0, 0, -1),
			ResponseDeadline:   deadline(25),
			NAICSCode:          "541512",
			PlaceOfPerformance: "Fort Belvoir, VA",
			URL:                "https://sam.gov/opp/RFP-2025-002/view",
		},
		{
			NoticeID:           "RFP-2025-003",
			SolicitationNumber: "HHS-NIH-NHLBI-25-001",
			Title:              "Biomedical Data Analytics and Visualization Platform",
			Agency:             "Department of Health and Human Services / NIH",
			Description:        "Development of a comprehensive data analytics platform for biomedical research data. Must support genomic data analysis, clinical trial data management, and interactive visualization.",
			PostedDate:         now.AddDate(0, 0, -3),
			ResponseDeadline:   deadline(21),
			NAICSCode:          "541511",
			SetAside:           "8(a)",
			PlaceOfPerformance: "Bethesda, MD",
			URL:                "https://sam.gov/opp/RFP-2025-003/view",
		},
	}
}
