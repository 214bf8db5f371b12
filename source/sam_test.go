package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rfp_scout/config"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func newTestSAMSource(url string) *SAMSource {
	s := NewSAMSource(config.SAMConfig{APIKey: "test-key", BaseURL: url}, nil)
	s.now = func() time.Time { return time.Date(2025, 3, 6, 12, 0, 0, 0, time.UTC) }
	s.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, samMaxRetries)
	}
	return s
}

func TestSAMSource_SearchParsesAndFilters(t *testing.T) {
	page := loadFixture(t, "sam_search_page.json")
	var gotQuery atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.Write(page)
	}))
	defer srv.Close()

	src := newTestSAMSource(srv.URL)
	opps, err := src.Search(context.Background(), Query{
		Keywords:        []string{"machine learning"},
		DaysBack:        3,
		MaxItems:        50,
		ExcludeKeywords: []string{"janitorial"},
		IncludeNAICS:    []string{"541511"},
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	q := gotQuery.Load().(url.Values)
	if q["title"][0] != "machine learning" {
		t.Fatalf("expected title param, got %v", q["title"])
	}
	if q["postedFrom"][0] != "03/03/2025" || q["postedTo"][0] != "03/06/2025" {
		t.Fatalf("unexpected date window %v - %v", q["postedFrom"], q["postedTo"])
	}
	if q["ptype"][0] != "o,p,r,s" {
		t.Fatalf("unexpected ptype %v", q["ptype"])
	}
	if q["api_key"][0] != "test-key" {
		t.Fatalf("api key not sent")
	}

	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity after filtering, got %d", len(opps))
	}
	opp := opps[0]
	if opp.NoticeID != "a1b2c3" {
		t.Fatalf("unexpected notice %s", opp.NoticeID)
	}
	if strings.Contains(opp.Description, "<") || strings.Contains(opp.Description, "alert") {
		t.Fatalf("description not sanitized: %q", opp.Description)
	}
	if !strings.Contains(opp.Description, "machine learning analytics support") {
		t.Fatalf("description text lost: %q", opp.Description)
	}
	if opp.PlaceOfPerformance != "Washington, DC" {
		t.Fatalf("unexpected place of performance %q", opp.PlaceOfPerformance)
	}
	if opp.ResponseDeadline == nil || opp.ResponseDeadline.Day() != 1 {
		t.Fatalf("unexpected deadline %v", opp.ResponseDeadline)
	}
	if opp.PostedDate.Format("2006-01-02") != "2025-03-03" {
		t.Fatalf("unexpected posted date %v", opp.PostedDate)
	}
}

func TestSAMSource_RetriesServerErrors(t *testing.T) {
	page := loadFixture(t, "sam_search_page.json")
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(page)
	}))
	defer srv.Close()

	opps, err := newTestSAMSource(srv.URL).Search(context.Background(), Query{
		Keywords: []string{"machine learning"},
		DaysBack: 3,
		MaxItems: 10,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(opps) != 3 {
		t.Fatalf("expected 3 opportunities, got %d", len(opps))
	}
}

func TestSAMSource_AllKeywordsFailing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestSAMSource(srv.URL).Search(context.Background(), Query{
		Keywords: []string{"ai", "ml"},
		DaysBack: 1,
		MaxItems: 10,
	})
	var srcErr *Error
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected *source.Error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one non-retried call per keyword, got %d", calls.Load())
	}
}

func TestSAMSource_Paginates(t *testing.T) {
	var mu sync.Mutex
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()
		if offset == "0" {
			var b strings.Builder
			b.WriteString(`{"totalRecords": 101, "opportunitiesData": [`)
			for i := 0; i < samPageSize; i++ {
				if i > 0 {
					b.WriteString(",")
				}
				b.WriteString(`{"noticeId": "p-` + strconv.Itoa(i) + `", "title": "Data platform ` + strconv.Itoa(i) + `"}`)
			}
			b.WriteString("]}")
			w.Write([]byte(b.String()))
			return
		}
		w.Write([]byte(`{"totalRecords": 101, "opportunitiesData": [{"noticeId": "last", "title": "Data platform final"}]}`))
	}))
	defer srv.Close()

	opps, err := newTestSAMSource(srv.URL).Search(context.Background(), Query{
		Keywords: []string{"data"},
		DaysBack: 1,
		MaxItems: 500,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) != 2 || offsets[1] != "100" {
		t.Fatalf("unexpected offsets %v", offsets)
	}
	if len(opps) != 101 {
		t.Fatalf("expected 101 opportunities, got %d", len(opps))
	}
}
