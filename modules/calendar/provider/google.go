package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"lms-calendar-api/core/config"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/mapper"
)

// googleAdapter talks to the Google-Calendar-style provider (provider A).
// Pagination is pageToken/nextPageToken.
type googleAdapter struct {
	client   apiClient
	baseURL  string
	pageSize int
}

func NewGoogleAdapter(cfg config.ProviderAPIConfig, pageSize int, tokens TokenSource, backoff BackoffStore, httpClient *http.Client) Adapter {
	return &googleAdapter{
		client:   newAPIClient(string(entity.ProviderGoogle), tokens, backoff, httpClient),
		baseURL:  cfg.APIBaseURL,
		pageSize: pageSize,
	}
}

func (a *googleAdapter) eventsURL() string {
	return a.baseURL + "/calendars/primary/events"
}

func (a *googleAdapter) ListEvents(ctx context.Context, integration *entity.CalendarIntegration, window Window, pageCursor string) (*ListPage, error) {
	params := url.Values{}
	params.Set("timeMin", window.Start.UTC().Format(time.RFC3339))
	params.Set("timeMax", window.End.UTC().Format(time.RFC3339))
	params.Set("singleEvents", "true")
	params.Set("showDeleted", "true")
	params.Set("maxResults", strconv.Itoa(a.pageSize))
	if pageCursor != "" {
		params.Set("pageToken", pageCursor)
	}

	var resp struct {
		Items         []mapper.GoogleEvent `json:"items"`
		NextPageToken string               `json:"nextPageToken"`
	}
	if err := a.client.doJSON(ctx, integration, http.MethodGet, a.eventsURL()+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	page := &ListPage{NextCursor: resp.NextPageToken}
	for i := range resp.Items {
		ev, err := mapper.FromGoogleEvent(&resp.Items[i], integration.UserID)
		if err != nil {
			page.Failures = append(page.Failures, ItemFailure{
				ExternalEventID: resp.Items[i].ID,
				Reason:          err.Error(),
			})
			continue
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (a *googleAdapter) CreateEvent(ctx context.Context, integration *entity.CalendarIntegration, event *entity.CalendarEvent) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.doJSON(ctx, integration, http.MethodPost, a.eventsURL(), mapper.ToGoogleEvent(event), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &ProviderError{Kind: KindTransient, Message: "create returned no event id"}
	}
	return resp.ID, nil
}

func (a *googleAdapter) UpdateEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string, event *entity.CalendarEvent) error {
	target := fmt.Sprintf("%s/%s", a.eventsURL(), url.PathEscape(externalEventID))
	return a.client.doJSON(ctx, integration, http.MethodPut, target, mapper.ToGoogleEvent(event), nil)
}

func (a *googleAdapter) DeleteEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string) error {
	target := fmt.Sprintf("%s/%s", a.eventsURL(), url.PathEscape(externalEventID))
	return a.client.doJSON(ctx, integration, http.MethodDelete, target, nil, nil)
}
