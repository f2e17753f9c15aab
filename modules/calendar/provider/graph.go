package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"lms-calendar-api/core/config"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/mapper"
)

// graphAdapter talks to the Microsoft-Graph-style provider (provider B).
// Pagination follows @odata.nextLink; the next link itself is the cursor.
type graphAdapter struct {
	client   apiClient
	baseURL  string
	pageSize int
}

func NewGraphAdapter(cfg config.ProviderAPIConfig, pageSize int, tokens TokenSource, backoff BackoffStore, httpClient *http.Client) Adapter {
	return &graphAdapter{
		client:   newAPIClient(string(entity.ProviderOutlook), tokens, backoff, httpClient),
		baseURL:  cfg.APIBaseURL,
		pageSize: pageSize,
	}
}

const graphQueryLayout = "2006-01-02T15:04:05Z"

func (a *graphAdapter) ListEvents(ctx context.Context, integration *entity.CalendarIntegration, window Window, pageCursor string) (*ListPage, error) {
	target := pageCursor
	if target == "" {
		params := url.Values{}
		params.Set("startDateTime", window.Start.UTC().Format(graphQueryLayout))
		params.Set("endDateTime", window.End.UTC().Format(graphQueryLayout))
		params.Set("$top", strconv.Itoa(a.pageSize))
		target = a.baseURL + "/me/calendarview?" + params.Encode()
	}

	var resp struct {
		Value    []mapper.GraphEvent `json:"value"`
		NextLink string              `json:"@odata.nextLink"`
	}
	if err := a.client.doJSON(ctx, integration, http.MethodGet, target, nil, &resp); err != nil {
		return nil, err
	}

	page := &ListPage{NextCursor: resp.NextLink}
	for i := range resp.Value {
		ev, err := mapper.FromGraphEvent(&resp.Value[i], integration.UserID)
		if err != nil {
			page.Failures = append(page.Failures, ItemFailure{
				ExternalEventID: resp.Value[i].ID,
				Reason:          err.Error(),
			})
			continue
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (a *graphAdapter) CreateEvent(ctx context.Context, integration *entity.CalendarIntegration, event *entity.CalendarEvent) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.doJSON(ctx, integration, http.MethodPost, a.baseURL+"/me/events", mapper.ToGraphEvent(event), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &ProviderError{Kind: KindTransient, Message: "create returned no event id"}
	}
	return resp.ID, nil
}

func (a *graphAdapter) UpdateEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string, event *entity.CalendarEvent) error {
	target := fmt.Sprintf("%s/me/events/%s", a.baseURL, url.PathEscape(externalEventID))
	return a.client.doJSON(ctx, integration, http.MethodPatch, target, mapper.ToGraphEvent(event), nil)
}

func (a *graphAdapter) DeleteEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string) error {
	target := fmt.Sprintf("%s/me/events/%s", a.baseURL, url.PathEscape(externalEventID))
	return a.client.doJSON(ctx, integration, http.MethodDelete, target, nil, nil)
}
