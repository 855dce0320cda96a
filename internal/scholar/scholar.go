// Package scholar is a client for the Semantic Scholar Graph API, used to
// discover papers that cite entries already in the library.
package scholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.semanticscholar.org/graph/v1"
	citationsPage  = 100
)

// Paper is the subset of Semantic Scholar metadata the expansion flow uses.
type Paper struct {
	PaperID string
	Title   string
	Year    int
	DOI     string
	Authors []string
}

// Client talks to the Graph API with client-side rate limiting: the public
// tier rejects bursts, and an API key only raises the ceiling.
type Client struct {
	// BaseURL may be overridden for tests.
	BaseURL string

	apiKey      string
	minInterval time.Duration
	httpClient  *http.Client

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient builds a client. The API key is optional; minInterval is the
// minimum gap between requests (zero disables throttling).
func NewClient(apiKey string, minInterval time.Duration) *Client {
	return &Client{
		BaseURL:     defaultBaseURL,
		apiKey:      apiKey,
		minInterval: minInterval,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// PaperByDOI looks up a paper by DOI. A 404 yields a zero Paper and no error,
// matching how callers treat papers Semantic Scholar has never seen.
func (c *Client) PaperByDOI(ctx context.Context, doi string) (Paper, error) {
	var resp paperJSON
	path := "/paper/DOI:" + url.PathEscape(doi) + "?fields=title,year,externalIds"
	found, err := c.get(ctx, path, &resp)
	if err != nil || !found {
		return Paper{}, err
	}
	return resp.toPaper(), nil
}

// Citations returns the papers citing the given Semantic Scholar paper id,
// following pagination to the end.
func (c *Client) Citations(ctx context.Context, paperID string) ([]Paper, error) {
	var out []Paper
	offset := 0
	for {
		var resp citationsJSON
		path := fmt.Sprintf("/paper/%s/citations?fields=title,year,externalIds,authors&offset=%d&limit=%d",
			url.PathEscape(paperID), offset, citationsPage)
		found, err := c.get(ctx, path, &resp)
		if err != nil {
			return nil, err
		}
		if !found {
			return out, nil
		}
		for _, entry := range resp.Data {
			out = append(out, entry.CitingPaper.toPaper())
		}
		if resp.Next == 0 || len(resp.Data) == 0 {
			return out, nil
		}
		offset = resp.Next
	}
}

func (c *Client) get(ctx context.Context, path string, v any) (bool, error) {
	if err := c.throttle(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return false, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("semantic scholar: status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("semantic scholar: decode: %w", err)
	}
	return true, nil
}

// throttle enforces the minimum spacing between requests.
func (c *Client) throttle(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	now := time.Now()
	wait := c.lastCall.Add(c.minInterval).Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = now.Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

type paperJSON struct {
	PaperID     string `json:"paperId"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	ExternalIDs struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (p paperJSON) toPaper() Paper {
	out := Paper{
		PaperID: p.PaperID,
		Title:   p.Title,
		Year:    p.Year,
		DOI:     strings.ToLower(p.ExternalIDs.DOI),
	}
	for _, a := range p.Authors {
		if a.Name != "" {
			out.Authors = append(out.Authors, a.Name)
		}
	}
	return out
}

type citationsJSON struct {
	Data []struct {
		CitingPaper paperJSON `json:"citingPaper"`
	} `json:"data"`
	Next int `json:"next"`
}
