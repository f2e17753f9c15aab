package provider

import (
	"context"
	"time"

	"lms-calendar-api/core/errors"
	"lms-calendar-api/modules/calendar/entity"
)

// Window bounds an import to a time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ItemFailure records one remote event that could not be mapped; the rest of
// the page still proceeds.
type ItemFailure struct {
	ExternalEventID string `json:"external_event_id"`
	Reason          string `json:"reason"`
}

// ListPage is one page of remote events in canonical form plus per-item
// mapping failures and the cursor for the next page (empty when exhausted).
type ListPage struct {
	Events     []*entity.CalendarEvent
	Failures   []ItemFailure
	NextCursor string
}

// TokenSource yields a fresh access token for an integration. The
// authorization manager implements it; adapters call it before every request.
type TokenSource interface {
	AccessToken(ctx context.Context, integration *entity.CalendarIntegration) (string, error)
}

// BackoffStore tracks per-provider rate-limit pauses so a throttled provider
// never stalls the others. core/cache.Cache satisfies it.
type BackoffStore interface {
	SetProviderBackoff(ctx context.Context, provider string, until time.Time) error
	GetProviderBackoff(ctx context.Context, provider string) (time.Time, error)
}

// Adapter is the per-provider capability set. One concrete implementation per
// provider, selected by the provider enum; new providers add a registry entry,
// never a subclass.
type Adapter interface {
	ListEvents(ctx context.Context, integration *entity.CalendarIntegration, window Window, pageCursor string) (*ListPage, error)
	CreateEvent(ctx context.Context, integration *entity.CalendarIntegration, event *entity.CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string, event *entity.CalendarEvent) error
	DeleteEvent(ctx context.Context, integration *entity.CalendarIntegration, externalEventID string) error
}

// Registry holds the configured adapters keyed by provider.
type Registry struct {
	adapters map[entity.Provider]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[entity.Provider]Adapter)}
}

func (r *Registry) Register(p entity.Provider, a Adapter) {
	r.adapters[p] = a
}

func (r *Registry) Get(p entity.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unsupported calendar provider: "+string(p), nil)
	}
	return a, nil
}
