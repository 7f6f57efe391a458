package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"remindd/internal/engine"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

const defaultSearchBaseURL = "https://api.tavily.com"

// SearchConfig configures the external-discovery source.
type SearchConfig struct {
	BaseURL    string
	APIKey     string
	MaxResults int           // per query; 0 means 10
	Timeout    time.Duration // per request; 0 means 15s
}

// SearchResult is one raw hit from the search API.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchClient talks to the search API over plain HTTP POST.
type SearchClient struct {
	cfg  SearchConfig
	http *http.Client
}

func NewSearchClient(cfg SearchConfig) *SearchClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearchClient{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// Search runs one query and returns the raw results.
func (c *SearchClient) Search(ctx context.Context, query string, domains []string) ([]SearchResult, error) {
	payload := struct {
		APIKey         string   `json:"api_key"`
		Query          string   `json:"query"`
		SearchDepth    string   `json:"search_depth"`
		IncludeDomains []string `json:"include_domains,omitempty"`
		MaxResults     int      `json:"max_results"`
	}{
		APIKey:         c.cfg.APIKey,
		Query:          query,
		SearchDepth:    "basic",
		IncludeDomains: domains,
		MaxResults:     c.cfg.MaxResults,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search api: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search api: decode response: %w", err)
	}
	return out.Results, nil
}

var (
	shoppingDomains = []string{"amazon.com", "ebay.com", "walmart.com", "target.com"}
	jobDomains      = []string{"indeed.com", "linkedin.com", "glassdoor.com", "monster.com"}

	discountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)%\s*off`),
		regexp.MustCompile(`(?i)(\d+)\s*percent\s*off`),
		regexp.MustCompile(`(?i)save\s*(\d+)%`),
		regexp.MustCompile(`(?i)(\d+)%\s*discount`),
		regexp.MustCompile(`(?i)up\s*to\s*(\d+)%\s*off`),
	}
	dollarOffPattern = regexp.MustCompile(`(?i)\$(\d+\.?\d*)\s*off`)

	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)at\s+([A-Z][a-zA-Z &]+?)(?:[\s,.\n]|$)`),
		regexp.MustCompile(`(?i)company:\s*([A-Z][a-zA-Z &]+?)(?:[\s,.\n]|$)`),
		regexp.MustCompile(`(?i)employer:\s*([A-Z][a-zA-Z &]+?)(?:[\s,.\n]|$)`),
	}

	priceIndicators = []string{
		"% off", "percent off", "discount", "sale", "price drop",
		"clearance", "deal", "offer", "reduced", "save", "special",
	}
)

// ExtractDiscount pulls an estimated discount percentage from result text.
// A dollars-off mention of $10 or more counts as a nominal 20%.
func ExtractDiscount(content string) float64 {
	for _, re := range discountPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				return v
			}
		}
	}
	if m := dollarOffPattern.FindStringSubmatch(content); m != nil {
		if amount, err := strconv.ParseFloat(m[1], 64); err == nil && amount >= 10 {
			return 20.0
		}
	}
	return 0
}

// ExtractCompany pulls an employer name from job result text.
func ExtractCompany(content string) string {
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			company := strings.TrimSpace(m[1])
			if len(company) > 3 {
				return company
			}
		}
	}
	return "Company not specified"
}

func hasPriceIndicator(content string) bool {
	lower := strings.ToLower(content)
	for _, term := range priceIndicators {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Search polls the external API for each active recipient's keywords and
// turns deal and job hits into candidates. Result URLs carry the dedup
// identity, so the same listing found twice collapses to one alert.
type Search struct {
	client *SearchClient
	store  store.Store
	log    logx.Logger
}

func NewSearch(client *SearchClient, st store.Store, log logx.Logger) *Search {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Search{client: client, store: st, log: log}
}

func (s *Search) Name() string { return "search" }

func (s *Search) Collect(ctx context.Context, now time.Time) ([]engine.Candidate, error) {
	recipients, err := s.store.ListActiveRecipients(ctx)
	if err != nil {
		return nil, err
	}

	var cands []engine.Candidate
	for _, rec := range recipients {
		if len(rec.Keywords) == 0 {
			continue
		}
		if rec.MinDiscount > 0 && rec.SubscribesTo("price_drop") {
			got, err := s.collectDeals(ctx, rec)
			if err != nil {
				s.log.Warn("deal search failed", logx.String("recipient", rec.ID), logx.Err(err))
			} else {
				cands = append(cands, got...)
			}
		}
		if rec.SubscribesTo("job_match") {
			got, err := s.collectJobs(ctx, rec)
			if err != nil {
				s.log.Warn("job search failed", logx.String("recipient", rec.ID), logx.Err(err))
			} else {
				cands = append(cands, got...)
			}
		}
	}
	return cands, nil
}

func (s *Search) collectDeals(ctx context.Context, rec store.Recipient) ([]engine.Candidate, error) {
	query := "price drop discount sale " + strings.Join(rec.Keywords, " OR ")
	results, err := s.client.Search(ctx, query, shoppingDomains)
	if err != nil {
		return nil, err
	}

	var cands []engine.Candidate
	for _, r := range results {
		discount := ExtractDiscount(r.Title + " " + r.Content)
		indicated := hasPriceIndicator(r.Title + " " + r.Content)
		if discount == 0 && indicated {
			// The listing reads like a deal but hides the number; assume it
			// just clears the recipient's bar.
			discount = rec.MinDiscount
			if discount < 15 {
				discount = 15
			}
		}
		if discount < rec.MinDiscount || discount == 0 {
			continue
		}
		cands = append(cands, engine.Candidate{
			RecipientID: rec.ID,
			Category:    "price_drop",
			Title:       fmt.Sprintf("Deal: %.0f%% off", discount),
			Body:        fmt.Sprintf("%s\n%s", r.Title, r.URL),
			SourceData:  map[string]any{"url": r.URL},
		})
	}
	return cands, nil
}

func (s *Search) collectJobs(ctx context.Context, rec store.Recipient) ([]engine.Candidate, error) {
	query := "job openings hiring " + strings.Join(rec.Keywords, " OR ")
	results, err := s.client.Search(ctx, query, jobDomains)
	if err != nil {
		return nil, err
	}

	var cands []engine.Candidate
	for _, r := range results {
		company := ExtractCompany(r.Content)
		cands = append(cands, engine.Candidate{
			RecipientID: rec.ID,
			Category:    "job_match",
			Title:       "Job match: " + r.Title,
			Body:        fmt.Sprintf("%s\n%s\n%s", company, truncate(r.Content, 200), r.URL),
			SourceData:  map[string]any{"url": r.URL},
		})
	}
	return cands, nil
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so the
// result is always valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
