package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"

	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func TestExtractDiscount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"Massive sale: 30% off all widgets", 30},
		{"save 25% this weekend", 25},
		{"now with a 15% discount", 15},
		{"up to 40% off selected items", 40},
		{"20 percent off everything", 20},
		{"$15 off your order", 20}, // dollars-off maps to a nominal 20%
		{"$5 off your order", 0},   // too small to count
		{"brand new widget in stock", 0},
	}
	for _, tc := range cases {
		if got := ExtractDiscount(tc.in); got != tc.want {
			t.Errorf("ExtractDiscount(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestExtractCompany(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Senior Go developer at Initech Systems, remote", "Initech Systems"},
		{"Company: Globex wants backend engineers", "Globex"},
		{"no employer mentioned here", "Company not specified"},
		{"at X.", "Company not specified"}, // too short to be a name
	}
	for _, tc := range cases {
		if got := ExtractCompany(tc.in); got != tc.want {
			t.Errorf("ExtractCompany(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func searchServer(t *testing.T, results []SearchResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			APIKey string `json:"api_key"`
			Query  string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" || req.Query == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
}

func TestSearchClient(t *testing.T) {
	srv := searchServer(t, []SearchResult{
		{Title: "Widget 30% off", URL: "https://shop.example/widget", Content: "limited time"},
	})
	defer srv.Close()

	client := NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k"})
	got, err := client.Search(context.Background(), "widget deals", shoppingDomains)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != "https://shop.example/widget" {
		t.Fatalf("results = %+v", got)
	}
}

func TestSearchClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := client.Search(context.Background(), "q", nil); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestSearchCollect(t *testing.T) {
	ctx := context.Background()
	srv := searchServer(t, []SearchResult{
		{Title: "Laptop sale 35% off", URL: "https://shop.example/laptop", Content: "35% off today"},
		{Title: "Laptop stand", URL: "https://shop.example/stand", Content: "sturdy aluminium stand"},
	})
	defer srv.Close()

	st := store.NewMemory()
	if err := st.PutRecipient(ctx, store.Recipient{
		ID: "u1", Address: "100",
		Keywords:    []string{"laptop"},
		MinDiscount: 20,
		Categories:  []string{"price_drop"},
	}); err != nil {
		t.Fatal(err)
	}
	// No keywords, never queried.
	if err := st.PutRecipient(ctx, store.Recipient{ID: "u2", Address: "200"}); err != nil {
		t.Fatal(err)
	}

	s := NewSearch(NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k"}), st, logx.Nop())
	cands, err := s.Collect(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %+v, want exactly the discounted hit", cands)
	}
	c := cands[0]
	if c.RecipientID != "u1" || c.Category != "price_drop" {
		t.Errorf("candidate = %+v", c)
	}
	if c.SourceData["url"] != "https://shop.example/laptop" {
		t.Errorf("source data = %v", c.SourceData)
	}
}

func TestSearchCollectBelowThresholdFiltered(t *testing.T) {
	ctx := context.Background()
	srv := searchServer(t, []SearchResult{
		{Title: "Widget 10% off", URL: "https://shop.example/w", Content: "10% off"},
	})
	defer srv.Close()

	st := store.NewMemory()
	if err := st.PutRecipient(ctx, store.Recipient{
		ID: "u1", Address: "100",
		Keywords:    []string{"widget"},
		MinDiscount: 25,
		Categories:  []string{"price_drop"},
	}); err != nil {
		t.Fatal(err)
	}

	s := NewSearch(NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k"}), st, logx.Nop())
	cands, err := s.Collect(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("candidates = %+v, want none below threshold", cands)
	}
}

func TestSearchCollectJobs(t *testing.T) {
	ctx := context.Background()
	srv := searchServer(t, []SearchResult{
		{Title: "Go developer", URL: "https://jobs.example/1", Content: "Backend role at Initech Systems, remote"},
	})
	defer srv.Close()

	st := store.NewMemory()
	if err := st.PutRecipient(ctx, store.Recipient{
		ID: "u1", Address: "100",
		Keywords:   []string{"golang"},
		Categories: []string{"job_match"},
	}); err != nil {
		t.Fatal(err)
	}

	s := NewSearch(NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k"}), st, logx.Nop())
	cands, err := s.Collect(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Category != "job_match" {
		t.Fatalf("candidates = %+v", cands)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"longer text", 6, "longer"},
		// A cut landing inside é backs off to the previous boundary.
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		// Three-byte runes: byte 7 is mid-rune.
		{"日本語の求人", 7, "日本"},
		{"crème brûlée", 6, "crème"},
	}
	for _, c := range cases {
		got := truncate(c.in, c.n)
		if got != c.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", c.in, c.n)
		}
	}
}
