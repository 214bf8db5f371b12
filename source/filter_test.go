package source

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rfp_scout/models"
)

func noticeIDs(opps []models.Opportunity) []string {
	ids := make([]string, 0, len(opps))
	for _, o := range opps {
		ids = append(ids, o.NoticeID)
	}
	return ids
}

func TestFilter(t *testing.T) {
	opps := []models.Opportunity{
		{NoticeID: "1", Title: "AI Platform", Agency: "Dept of Energy", SolicitationNumber: "S-1", NAICSCode: "541511"},
		{NoticeID: "1", Title: "AI Platform (dup id)", NAICSCode: "541511"},
		{NoticeID: "2", Title: "A.I. Platform", Agency: "Department of Energy", SolicitationNumber: "s-1", NAICSCode: "541511"},
		{NoticeID: "3", Title: "Food Service Analytics", NAICSCode: "541511"},
		{NoticeID: "4", Title: "Ship Repair", NAICSCode: "336611"},
		{NoticeID: "5", Title: "Special Notice: Data Day"},
		{NoticeID: "", Title: "No id"},
		{NoticeID: "6", Title: "Cloud Migration", NAICSCode: "541512"},
		{NoticeID: "7", Title: "Data Lake", NAICSCode: "541512"},
	}
	q := Query{
		MaxItems:        3,
		ExcludeKeywords: []string{"food service"},
		IncludeNAICS:    []string{"541511", "541512"},
	}

	got := noticeIDs(Filter(opps, q))
	// "A.I. Platform" normalizes to "a i platform", so notice 2 is not a
	// fingerprint duplicate of notice 1.
	want := []string{"1", "2", "5"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_FingerprintDedupe(t *testing.T) {
	opps := []models.Opportunity{
		{NoticeID: "orig", Title: "Data Analytics Support", Agency: "Department of the Navy", SolicitationNumber: "N00024-25-R-1"},
		{NoticeID: "amend", Title: "DATA ANALYTICS SUPPORT", Agency: "Dept of Navy", SolicitationNumber: "n00024-25-r-1"},
	}
	got := noticeIDs(Filter(opps, Query{}))
	if diff := cmp.Diff([]string{"orig"}, got); diff != "" {
		t.Fatalf("dedupe mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchKeywords(t *testing.T) {
	opps := []models.Opportunity{
		{NoticeID: "1", Title: "Machine Learning Ops"},
		{NoticeID: "2", Title: "Roofing", Description: "Includes DATA ANALYTICS dashboard"},
		{NoticeID: "3", Title: "Roofing"},
	}
	got := noticeIDs(MatchKeywords(opps, []string{"machine learning", "data analytics"}))
	if diff := cmp.Diff([]string{"1", "2"}, got); diff != "" {
		t.Fatalf("match mismatch (-want +got):\n%s", diff)
	}
	if len(MatchKeywords(opps, nil)) != 3 {
		t.Fatalf("expected empty keyword list to keep everything")
	}
}

func TestMockSource_Search(t *testing.T) {
	src := NewMockSource()

	opps, err := src.Search(context.Background(), Query{
		Keywords: []string{"data analytics"},
		MaxItems: 10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"RFP-2025-001", "RFP-2025-003"}, noticeIDs(opps)); diff != "" {
		t.Fatalf("mock results mismatch (-want +got):\n%s", diff)
	}

	capped, _ := src.Search(context.Background(), Query{
		Keywords: []string{"platform", "cloud"},
		MaxItems: 1,
	})
	if len(capped) != 1 {
		t.Fatalf("expected cap of 1, got %d", len(capped))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Search(ctx, Query{Keywords: []string{"ai"}}); err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestCleanText(t *testing.T) {
	in := "<div>Line one<br>Line\x00 two</div><style>p{}</style>\t\t<p>Three</p>"
	got := CleanText(in, 0)
	if strings.ContainsAny(got, "<>\x00") || strings.Contains(got, "p{}") {
		t.Fatalf("markup not removed: %q", got)
	}
	for _, want := range []string{"Line one", "Line two", "Three"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}

	long := strings.Repeat("é", 20)
	if got := CleanText(long, 5); got != "ééééé" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestCleanURL(t *testing.T) {
	cases := map[string]string{
		"https://sam.gov/opp/1/view": "https://sam.gov/opp/1/view",
		"javascript:alert(1)":        "",
		"http://localhost:8080/x":    "",
		"http://192.168.1.5/doc":     "",
		"ftp://sam.gov/file":         "",
	}
	for in, want := range cases {
		if got := CleanURL(in); got != want {
			t.Fatalf("CleanURL(%q) = %q, want %q", in, got, want)
		}
	}
}
