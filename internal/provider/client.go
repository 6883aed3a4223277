package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attendlens/backend/config"
)

// LifecycleTypes are the listing types enumerated during a sync, in order.
var LifecycleTypes = []string{"scheduled", "live", "ended"}

// Client calls the provider REST API with a caller-supplied bearer token.
type Client struct {
	baseURL     string
	http        *httpClient
	pageSize    int
	pageCeiling int
	callDelay   time.Duration
	logger      *zap.Logger
}

// NewClient creates a provider API client from config.
func NewClient(cfg config.ProviderConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		http:        newHTTPClient(cfg.RequestTimeout, cfg.RetryAttempts, logger),
		pageSize:    cfg.PageSize,
		pageCeiling: cfg.PageCeiling,
		callDelay:   cfg.CallDelay,
		logger:      logger,
	}
}

// getJSON performs an authenticated GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, token, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// pause sleeps the inter-call delay between paginated requests, respecting ctx.
func (c *Client) pause(ctx context.Context) {
	if c.callDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.callDelay):
	}
}

// ListWebinars enumerates webinars in [from, to] across the given lifecycle
// types, deduplicated by provider id. A page failure aborts only that type's
// enumeration; the union of the successfully enumerated types is returned.
// An error is returned only when every type failed.
func (c *Client) ListWebinars(ctx context.Context, token string, from, to time.Time, types []string) ([]Webinar, error) {
	if len(types) == 0 {
		types = LifecycleTypes
	}
	seen := make(map[string]bool)
	var out []Webinar
	var failures []string
	for _, typ := range types {
		entries, err := c.listWebinarsByType(ctx, token, from, to, typ)
		if err != nil {
			c.logger.Warn("webinar enumeration failed for type",
				zap.String("type", typ), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", typ, err))
			continue
		}
		for _, e := range entries {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, Webinar{
				ID:        e.ID,
				UUID:      e.UUID,
				Topic:     e.Topic,
				StartTime: parseProviderTime(e.StartTime),
				Duration:  e.Duration,
				Status:    typ,
			})
		}
	}
	if len(out) == 0 && len(failures) == len(types) {
		return nil, fmt.Errorf("all webinar listings failed: %s", strings.Join(failures, "; "))
	}
	return out, nil
}

// listWebinarsByType pages through one lifecycle type. Continues while the
// page came back full or the page count says more remain; the configured
// page ceiling caps runaway providers that keep returning full pages.
func (c *Client) listWebinarsByType(ctx context.Context, token string, from, to time.Time, typ string) ([]webinarEntry, error) {
	var all []webinarEntry
	for pageNumber := 1; pageNumber <= c.pageCeiling; pageNumber++ {
		query := url.Values{}
		query.Set("type", typ)
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("page_number", strconv.Itoa(pageNumber))
		if !from.IsZero() {
			query.Set("from", from.Format("2006-01-02"))
		}
		if !to.IsZero() {
			query.Set("to", to.Format("2006-01-02"))
		}
		var page listWebinarsPage
		if err := c.getJSON(ctx, token, "/users/me/webinars", query, &page); err != nil {
			return nil, fmt.Errorf("list webinars type=%s page=%d: %w", typ, pageNumber, err)
		}
		all = append(all, page.Webinars...)
		if len(page.Webinars) == 0 || len(page.Webinars) < c.pageSize {
			break
		}
		if page.PageCount > 0 && page.PageNumber >= page.PageCount {
			break
		}
		c.pause(ctx)
	}
	return all, nil
}

// GetWebinar fetches the detail record for one webinar.
func (c *Client) GetWebinar(ctx context.Context, token, webinarID string) (*Webinar, error) {
	var detail webinarDetail
	if err := c.getJSON(ctx, token, "/webinars/"+url.PathEscape(webinarID), nil, &detail); err != nil {
		return nil, fmt.Errorf("get webinar %s: %w", webinarID, err)
	}
	return &Webinar{
		ID:        detail.ID,
		UUID:      detail.UUID,
		Topic:     detail.Topic,
		StartTime: parseProviderTime(detail.StartTime),
		Duration:  detail.Duration,
		HostEmail: detail.HostEmail,
		Settings:  detail.Settings,
	}, nil
}

// ListOccurrences returns the occurrences of a recurring webinar; zero
// entries means the webinar is a single event.
func (c *Client) ListOccurrences(ctx context.Context, token, webinarID string) ([]Occurrence, error) {
	query := url.Values{}
	query.Set("show_previous_occurrences", "true")
	var detail webinarDetail
	if err := c.getJSON(ctx, token, "/webinars/"+url.PathEscape(webinarID), query, &detail); err != nil {
		return nil, fmt.Errorf("list occurrences %s: %w", webinarID, err)
	}
	var out []Occurrence
	for _, o := range detail.Occurrences {
		out = append(out, Occurrence{
			OccurrenceID: o.OccurrenceID,
			StartTime:    parseProviderTime(o.StartTime),
			Duration:     o.Duration,
			Status:       o.Status,
		})
	}
	return out, nil
}

// ListRegistrants pages through the registrants of a webinar.
func (c *Client) ListRegistrants(ctx context.Context, token, webinarID string) ([]Registrant, error) {
	var all []Registrant
	for pageNumber := 1; pageNumber <= c.pageCeiling; pageNumber++ {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("page_number", strconv.Itoa(pageNumber))
		var page listRegistrantsPage
		if err := c.getJSON(ctx, token, "/webinars/"+url.PathEscape(webinarID)+"/registrants", query, &page); err != nil {
			return nil, fmt.Errorf("list registrants %s page=%d: %w", webinarID, pageNumber, err)
		}
		all = append(all, page.Registrants...)
		if len(page.Registrants) < c.pageSize || (page.PageCount > 0 && page.PageNumber >= page.PageCount) {
			break
		}
		c.pause(ctx)
	}
	return all, nil
}

// ListReportParticipants fetches attendance from the detailed report
// endpoint (cursor-token pagination, rich engagement fields), normalized to
// the canonical attendance shape. occurrenceID narrows a recurring webinar
// to one occurrence.
func (c *Client) ListReportParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]AttendanceRecord, error) {
	var all []AttendanceRecord
	nextPageToken := ""
	for page := 0; page < c.pageCeiling; page++ {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		if nextPageToken != "" {
			query.Set("next_page_token", nextPageToken)
		}
		if occurrenceID != "" {
			query.Set("occurrence_id", occurrenceID)
		}
		var resp reportParticipantsPage
		if err := c.getJSON(ctx, token, "/report/webinars/"+url.PathEscape(webinarID)+"/participants", query, &resp); err != nil {
			return nil, fmt.Errorf("report participants %s: %w", webinarID, err)
		}
		for _, e := range resp.Participants {
			all = append(all, e.normalize(occurrenceID))
		}
		if resp.NextPageToken == "" {
			break
		}
		nextPageToken = resp.NextPageToken
		c.pause(ctx)
	}
	return all, nil
}

// ListBasicParticipants fetches attendance from the basic past-webinar
// endpoint (page-number pagination, minimal fields), normalized to the
// canonical attendance shape.
func (c *Client) ListBasicParticipants(ctx context.Context, token, webinarID, occurrenceID string) ([]AttendanceRecord, error) {
	var all []AttendanceRecord
	for pageNumber := 1; pageNumber <= c.pageCeiling; pageNumber++ {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("page_number", strconv.Itoa(pageNumber))
		if occurrenceID != "" {
			query.Set("occurrence_id", occurrenceID)
		}
		var page basicParticipantsPage
		if err := c.getJSON(ctx, token, "/past_webinars/"+url.PathEscape(webinarID)+"/participants", query, &page); err != nil {
			return nil, fmt.Errorf("basic participants %s page=%d: %w", webinarID, pageNumber, err)
		}
		for _, e := range page.Participants {
			all = append(all, e.normalize(occurrenceID))
		}
		if len(page.Participants) < c.pageSize || (page.PageCount > 0 && page.PageNumber >= page.PageCount) {
			break
		}
		c.pause(ctx)
	}
	return all, nil
}
