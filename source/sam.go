package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rfp_scout/config"
	"rfp_scout/models"
)

const (
	samPageSize      = 100
	samMaxPerKeyword = 1000
	samMaxRetries    = 3
	samNoticeTypes   = "o,p,r,s" // solicitations, presolicitations, sources sought, special notices
	samDateLayout    = "01/02/2006"
)

// SAMSource searches the SAM.gov opportunities API by title keyword.
type SAMSource struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time

	now        func() time.Time
	newBackoff func() backoff.BackOff
}

func NewSAMSource(cfg config.SAMConfig, client *http.Client) *SAMSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultSAMBaseURL
	}
	return &SAMSource{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     baseURL,
		client:      client,
		minInterval: cfg.MinRequestInterval,
		now:         time.Now,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxInterval = 30 * time.Second
			return backoff.WithMaxRetries(bo, samMaxRetries)
		},
	}
}

type samResponse struct {
	TotalRecords      int         `json:"totalRecords"`
	OpportunitiesData []samNotice `json:"opportunitiesData"`
}

type samNotice struct {
	NoticeID                  string `json:"noticeId"`
	Title                     string `json:"title"`
	SolicitationNumber        string `json:"solicitationNumber"`
	FullParentPathName        string `json:"fullParentPathName"`
	PostedDate                string `json:"postedDate"`
	ResponseDeadLine          string `json:"responseDeadLine"`
	NAICSCode                 string `json:"naicsCode"`
	TypeOfSetAsideDescription string `json:"typeOfSetAsideDescription"`
	Description               string `json:"description"`
	UILink                    string `json:"uiLink"`
	PlaceOfPerformance        *struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		State struct {
			Code string `json:"code"`
		} `json:"state"`
	} `json:"placeOfPerformance"`
}

// Search queries each keyword in turn. A keyword that fails is logged and
// skipped; the search fails only when every keyword fails.
func (s *SAMSource) Search(ctx context.Context, q Query) ([]models.Opportunity, error) {
	if len(q.Keywords) == 0 {
		return nil, &Error{Source: "sam", Err: fmt.Errorf("no search keywords")}
	}

	postedTo := s.now()
	postedFrom := postedTo.AddDate(0, 0, -q.DaysBack)

	var all []models.Opportunity
	var lastErr error
	failed := 0
	for _, kw := range q.Keywords {
		opps, err := s.searchKeyword(ctx, kw, postedFrom, postedTo)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Source: "sam", Err: ctx.Err()}
			}
			log.Printf("[SAM] Keyword %q failed: %v", kw, err)
			lastErr = err
			failed++
			continue
		}
		log.Printf("[SAM] Found %d opportunities for keyword %q", len(opps), kw)
		all = append(all, opps...)
	}

	if failed == len(q.Keywords) {
		return nil, &Error{Source: "sam", Err: lastErr}
	}
	return Filter(all, q), nil
}

func (s *SAMSource) searchKeyword(ctx context.Context, keyword string, from, to time.Time) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for offset := 0; len(out) < samMaxPerKeyword; offset += samPageSize {
		params := url.Values{}
		params.Set("api_key", s.apiKey)
		params.Set("title", keyword)
		params.Set("postedFrom", from.Format(samDateLayout))
		params.Set("postedTo", to.Format(samDateLayout))
		params.Set("limit", strconv.Itoa(samPageSize))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("ptype", samNoticeTypes)

		page, err := s.fetch(ctx, params)
		if err != nil {
			if len(out) > 0 {
				log.Printf("[SAM] Keyword %q stopped at offset %d: %v", keyword, offset, err)
				break
			}
			return nil, err
		}
		if len(page.OpportunitiesData) == 0 {
			break
		}
		for _, n := range page.OpportunitiesData {
			out = append(out, n.toOpportunity())
		}
		if offset+len(page.OpportunitiesData) >= page.TotalRecords {
			break
		}
	}

	if len(out) > samMaxPerKeyword {
		out = out[:samMaxPerKeyword]
	}
	return out, nil
}

func (s *SAMSource) fetch(ctx context.Context, params url.Values) (*samResponse, error) {
	endpoint := s.baseURL + "?" + params.Encode()
	var page samResponse

	op := func() error {
		if err := s.throttle(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("sam.gov returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("sam.gov returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		page = samResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return nil, err
	}
	return &page, nil
}

// throttle spaces requests at least minInterval apart.
func (s *SAMSource) throttle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := s.minInterval - time.Since(s.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.lastRequest = time.Now()
	return nil
}

func (n samNotice) toOpportunity() models.Opportunity {
	opp := models.Opportunity{
		NoticeID:           strings.TrimSpace(n.NoticeID),
		SolicitationNumber: CleanText(n.SolicitationNumber, 200),
		Title:              CleanText(n.Title, 500),
		Agency:             CleanText(n.FullParentPathName, 500),
		Description:        CleanText(n.Description, maxDescriptionLen),
		NAICSCode:          strings.TrimSpace(n.NAICSCode),
		SetAside:           CleanText(n.TypeOfSetAsideDescription, 200),
		URL:                CleanURL(n.UILink),
	}
	if opp.Title == "" {
		opp.Title = "Unknown"
	}
	if opp.Agency == "" {
		opp.Agency = "Unknown"
	}
	if t, ok := parseDate(n.PostedDate); ok {
		opp.PostedDate = t
	}
	if t, ok := parseDate(n.ResponseDeadLine); ok {
		opp.ResponseDeadline = &t
	}
	if p := n.PlaceOfPerformance; p != nil {
		parts := make([]string, 0, 2)
		if p.City.Name != "" {
			parts = append(parts, p.City.Name)
		}
		if p.State.Code != "" {
			parts = append(parts, p.State.Code)
		}
		opp.PlaceOfPerformance = strings.Join(parts, ", ")
	}
	return opp
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
	samDateLayout,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
