package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ensnotify/internal/config"
	"ensnotify/internal/content"
)

const defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// CalendarFetcher lists upcoming events from a public Google calendar.
// Cancelled events are dropped at the source so no channel ever sees them.
type CalendarFetcher struct {
	baseURL    string
	apiKey     string
	calendarID string
	maxResults int
	client     *http.Client

	// now is swapped in tests to pin the timeMin bound.
	now func() time.Time
}

func NewCalendarFetcher(cfg config.CalendarSource) *CalendarFetcher {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = defaultCalendarBaseURL
	}
	max := cfg.MaxResults
	if max <= 0 {
		max = 10
	}
	return &CalendarFetcher{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		calendarID: cfg.CalendarID,
		maxResults: max,
		client:     newHTTPClient(),
		now:        time.Now,
	}
}

func (f *CalendarFetcher) Category() content.Category { return content.CategoryCalendar }

func (f *CalendarFetcher) Fetch(ctx context.Context) ([]content.Item, error) {
	q := url.Values{}
	q.Set("key", f.apiKey)
	q.Set("maxResults", strconv.Itoa(f.maxResults))
	q.Set("timeMin", f.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s",
		f.baseURL, url.PathEscape(f.calendarID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("calendar: status %d: %s", resp.StatusCode, b)
	}

	var result struct {
		Items []content.CalendarEvent `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	items := make([]content.Item, 0, len(result.Items))
	for _, e := range result.Items {
		if e.Status == "cancelled" {
			continue
		}
		items = append(items, e)
	}
	return items, nil
}
