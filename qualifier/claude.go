package qualifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"rfp_scout/models"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxPromptDesc  = 8000
)

// ClaudeScorer asks an Anthropic model for a structured assessment.
type ClaudeScorer struct {
	client     anthropic.Client
	maxTokens  int64
	prompt     *template.Template
	newBackoff func() backoff.BackOff
}

func NewClaudeScorer(apiKey string, maxTokens int, httpClient *http.Client, opts ...option.RequestOption) (*ClaudeScorer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	tmpl, err := template.New("assess").Parse(assessPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(httpClient))
	}
	reqOpts = append(reqOpts, opts...)

	return &ClaudeScorer{
		client:    anthropic.NewClient(reqOpts...),
		maxTokens: int64(maxTokens),
		prompt:    tmpl,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = initialBackoff
			return backoff.WithMaxRetries(bo, maxRetries)
		},
	}, nil
}

func (c *ClaudeScorer) Assess(ctx context.Context, opp models.Opportunity, model string, profile models.CompanyProfile) (*models.Assessment, error) {
	start := time.Now()

	prompt, err := c.renderPrompt(opp, profile)
	if err != nil {
		return nil, &Error{NoticeID: opp.NoticeID, Err: fmt.Errorf("render prompt: %w", err)}
	}

	text, err := c.callWithRetry(ctx, model, prompt)
	if err != nil {
		return nil, &Error{NoticeID: opp.NoticeID, Err: err}
	}

	assessment, err := parseAssessment(text)
	if err != nil {
		return nil, &Error{NoticeID: opp.NoticeID, Err: err}
	}
	assessment.ModelUsed = model
	assessment.ProcessingTimeMS = time.Since(start).Milliseconds()
	return assessment, nil
}

func (c *ClaudeScorer) callWithRetry(ctx context.Context, model, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var text string
	op := func() error {
		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
		}
		content := message.Content[0]
		if content.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
		}
		text = content.Text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

type promptData struct {
	Profile     string
	Title       string
	Agency      string
	Posted      string
	Deadline    string
	NAICS       string
	SetAside    string
	Place       string
	Description string
}

func (c *ClaudeScorer) renderPrompt(opp models.Opportunity, profile models.CompanyProfile) (string, error) {
	data := promptData{
		Profile:     profile.Summary(),
		Title:       opp.Title,
		Agency:      opp.Agency,
		NAICS:       orDash(opp.NAICSCode),
		SetAside:    orDash(opp.SetAside),
		Place:       orDash(opp.PlaceOfPerformance),
		Description: opp.Description,
	}
	if !opp.PostedDate.IsZero() {
		data.Posted = opp.PostedDate.Format("2006-01-02")
	}
	if opp.ResponseDeadline != nil {
		data.Deadline = opp.ResponseDeadline.Format("2006-01-02")
	}
	if r := []rune(data.Description); len(r) > maxPromptDesc {
		data.Description = string(r[:maxPromptDesc])
	}

	var buf bytes.Buffer
	if err := c.prompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

const assessPromptTemplate = `You are an expert government contracting analyst. Assess how well this opportunity fits the company below.

COMPANY PROFILE:
{{.Profile}}

OPPORTUNITY:
Title: {{.Title}}
Agency: {{.Agency}}
{{if .Posted}}Posted: {{.Posted}}
{{end}}{{if .Deadline}}Response deadline: {{.Deadline}}
{{end}}NAICS: {{.NAICS}}
Set-aside: {{.SetAside}}
Place of performance: {{.Place}}

DESCRIPTION:
{{.Description}}

Score relevance from 0 to 10, where 7 or more means the company should pursue it and below 4 means it is a poor fit.

Respond with ONLY a JSON object with these fields:
{
  "relevance_score": <number 0-10>,
  "is_qualified": <true if relevance_score >= 7>,
  "justification": "<one paragraph explaining the fit>",
  "key_requirements": ["<requirement>", ...],
  "company_advantages": ["<advantage>", ...],
  "suggested_approach": "<how to approach this bid>",
  "ai_application": "<how AI/ML applies, if at all>",
  "uncertainty_factors": ["<risk>", ...]
}`
