// Package zotero is a thin client for the Zotero Web API v3. It covers the
// handful of calls the library workflows need: paginated item listing, child
// attachments, and item creation. There is no maintained Go SDK for Zotero,
// so this rides directly on net/http.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"refdesk/internal/retry"
)

const (
	defaultBaseURL = "https://api.zotero.org"
	apiVersion     = "3"

	// PageLimit is Zotero's maximum items per request.
	PageLimit = 100

	maxRequestAttempts = 4
)

// Creator is an author or editor on an item.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
}

// Tag is a Zotero tag entry.
type Tag struct {
	Tag string `json:"tag"`
}

// Note is an attached note on an item.
type Note struct {
	Note string `json:"note"`
}

// ItemData is the mutable payload of a Zotero item. Only the fields the
// indexing and expansion flows read or write are mapped.
type ItemData struct {
	Key         string    `json:"key,omitempty"`
	ItemType    string    `json:"itemType"`
	Title       string    `json:"title,omitempty"`
	Creators    []Creator `json:"creators,omitempty"`
	Date        string    `json:"date,omitempty"`
	DOI         string    `json:"DOI,omitempty"`
	Tags        []Tag     `json:"tags,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
}

// Item is a Zotero library item.
type Item struct {
	Key  string   `json:"key"`
	Data ItemData `json:"data"`
}

// IsAttachment reports whether the item is itself an attachment rather
// than a bibliographic entry.
func (it Item) IsAttachment() bool {
	return it.Data.ItemType == "attachment"
}

// Client talks to a single user library.
type Client struct {
	// BaseURL may be overridden for tests.
	BaseURL string

	libraryID  string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client for a user library. Both credentials are
// required; the README's secrets file supplies them as LIBRARY_ID and API_KEY.
func NewClient(libraryID, apiKey string, log *slog.Logger) (*Client, error) {
	if libraryID == "" || apiKey == "" {
		return nil, errors.New("missing LIBRARY_ID or API_KEY in environment variables")
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		libraryID:  libraryID,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}, nil
}

// Items returns one page of library items plus the library's total item
// count from the Total-Results header.
func (c *Client) Items(ctx context.Context, start, limit int) ([]Item, int, error) {
	if limit <= 0 || limit > PageLimit {
		limit = PageLimit
	}
	path := fmt.Sprintf("/users/%s/items?start=%d&limit=%d", c.libraryID, start, limit)
	body, header, err := c.get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, 0, fmt.Errorf("zotero: decode items: %w", err)
	}
	total, _ := strconv.Atoi(header.Get("Total-Results"))
	return items, total, nil
}

// ItemCount returns the number of items in the library without fetching them.
func (c *Client) ItemCount(ctx context.Context) (int, error) {
	_, total, err := c.Items(ctx, 0, 1)
	return total, err
}

// Children returns the child items (attachments, notes) of an item.
func (c *Client) Children(ctx context.Context, itemKey string) ([]Item, error) {
	path := fmt.Sprintf("/users/%s/items/%s/children", c.libraryID, itemKey)
	body, _, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("zotero: decode children: %w", err)
	}
	return items, nil
}

// PDFAttachmentKey finds the first PDF attachment among an item's children.
// Returns the empty string when the item has none.
func (c *Client) PDFAttachmentKey(ctx context.Context, itemKey string) (string, error) {
	children, err := c.Children(ctx, itemKey)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.Data.ContentType == "application/pdf" {
			return child.Key, nil
		}
	}
	return "", nil
}

// CreateItem adds a single item to the library, optionally with notes.
func (c *Client) CreateItem(ctx context.Context, data ItemData, notes ...Note) error {
	payload := []any{data}
	for _, n := range notes {
		payload = append(payload, map[string]string{
			"itemType": "note",
			"note":     n.Note,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/users/%s/items", c.libraryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("zotero: create item: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
		if err != nil {
			return nil, nil, err
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode == http.StatusOK:
				return body, resp.Header, nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("zotero: status %d", resp.StatusCode)
				if wait := serverBackoff(resp.Header); wait > 0 {
					c.log.Warn("zotero asked us to back off", "seconds", wait.Seconds())
					if !sleepCtx(ctx, wait) {
						return nil, nil, ctx.Err()
					}
					continue
				}
			default:
				return nil, nil, fmt.Errorf("zotero: status %d: %s", resp.StatusCode, body)
			}
		}
		if attempt < maxRequestAttempts-1 {
			if !sleepCtx(ctx, retry.ExponentialBackoff(attempt, 500*time.Millisecond)) {
				return nil, nil, ctx.Err()
			}
		}
	}
	return nil, nil, lastErr
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Zotero-API-Version", apiVersion)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// serverBackoff reads the delay the Zotero API requests via its Backoff or
// Retry-After headers.
func serverBackoff(h http.Header) time.Duration {
	for _, key := range []string{"Backoff", "Retry-After"} {
		if v := h.Get(key); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// AuthorString flattens creators into the "First Last; First Last" form
// stored alongside chunks.
func AuthorString(creators []Creator) string {
	var names []string
	for _, cr := range creators {
		switch {
		case cr.FirstName != "" && cr.LastName != "":
			names = append(names, cr.FirstName+" "+cr.LastName)
		case cr.LastName != "":
			names = append(names, cr.LastName)
		}
	}
	return strings.Join(names, "; ")
}

// TagList flattens tag entries into their plain names.
func TagList(tags []Tag) []string {
	var out []string
	for _, t := range tags {
		if t.Tag != "" {
			out = append(out, t.Tag)
		}
	}
	return out
}

// SplitName turns a display name into first/last parts, treating the final
// word as the family name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
