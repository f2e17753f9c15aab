package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/provider"
)

// In-memory doubles for the sync and authorization tests.

type fakeCache struct {
	mu      sync.Mutex
	nonces  map[string]bool
	locks   map[string]bool
	backoff map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		nonces:  make(map[string]bool),
		locks:   make(map[string]bool),
		backoff: make(map[string]time.Time),
	}
}

func (c *fakeCache) SaveOAuthNonce(_ context.Context, nonce string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[nonce] = true
	return nil
}

func (c *fakeCache) ConsumeOAuthNonce(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nonces[nonce] {
		return false, nil
	}
	delete(c.nonces, nonce)
	return true, nil
}

func (c *fakeCache) AcquireSyncLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseSyncLock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *fakeCache) SetProviderBackoff(_ context.Context, p string, until time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff[p] = until
	return nil
}

func (c *fakeCache) GetProviderBackoff(_ context.Context, p string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff[p], nil
}

func (c *fakeCache) Close() error { return nil }

type fakeIntegrationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entity.CalendarIntegration
}

func newFakeIntegrationRepo() *fakeIntegrationRepo {
	return &fakeIntegrationRepo{rows: make(map[uuid.UUID]*entity.CalendarIntegration)}
}

func (r *fakeIntegrationRepo) clone(i *entity.CalendarIntegration) *entity.CalendarIntegration {
	cp := *i
	return &cp
}

func (r *fakeIntegrationRepo) Upsert(_ context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == integration.UserID && row.Provider == integration.Provider {
			integration.ID = row.ID
			integration.CreatedAt = row.CreatedAt
			integration.UpdatedAt = time.Now()
			r.rows[row.ID] = r.clone(integration)
			return r.clone(integration), nil
		}
	}
	integration.ID = uuid.New()
	integration.CreatedAt = time.Now()
	integration.UpdatedAt = integration.CreatedAt
	r.rows[integration.ID] = r.clone(integration)
	return r.clone(integration), nil
}

func (r *fakeIntegrationRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return r.clone(row), nil
}

func (r *fakeIntegrationRepo) GetByUserAndProvider(_ context.Context, userID uuid.UUID, p entity.Provider) (*entity.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Provider == p {
			return r.clone(row), nil
		}
	}
	return nil, nil
}

func (r *fakeIntegrationRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]entity.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CalendarIntegration
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, *r.clone(row))
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) ListConnected(_ context.Context) ([]entity.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CalendarIntegration
	for _, row := range r.rows {
		if row.IsConnected {
			out = append(out, *r.clone(row))
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) UpdateTokens(_ context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("integration %s not found", id)
	}
	row.AccessToken = accessToken
	row.RefreshToken = refreshToken
	row.TokenExpiresAt = expiresAt
	return nil
}

func (r *fakeIntegrationRepo) UpdateSettings(_ context.Context, id uuid.UUID, syncEnabled, importEnabled, exportEnabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("integration %s not found", id)
	}
	row.SyncEnabled = syncEnabled
	row.ImportEnabled = importEnabled
	row.ExportEnabled = exportEnabled
	return nil
}

func (r *fakeIntegrationRepo) UpdateLastSyncAt(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.LastSyncAt = &at
	}
	return nil
}

func (r *fakeIntegrationRepo) Tombstone(_ context.Context, userID uuid.UUID, p entity.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Provider == p {
			row.IsConnected = false
			row.SyncEnabled = false
			row.AccessToken = ""
			row.RefreshToken = ""
			row.TokenExpiresAt = time.Unix(0, 0)
		}
	}
	return nil
}

type fakeEventRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entity.CalendarEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{rows: make(map[uuid.UUID]*entity.CalendarEvent)}
}

func (r *fakeEventRepo) clone(e *entity.CalendarEvent) *entity.CalendarEvent {
	cp := *e
	return &cp
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.CalendarEvent) (*entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	r.rows[event.ID] = r.clone(event)
	return r.clone(event), nil
}

func (r *fakeEventRepo) Update(_ context.Context, event *entity.CalendarEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[event.ID]; !ok {
		return fmt.Errorf("event %s not found", event.ID)
	}
	event.UpdatedAt = time.Now()
	r.rows[event.ID] = r.clone(event)
	return nil
}

func (r *fakeEventRepo) Delete(_ context.Context, ownerUserID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.OwnerUserID != ownerUserID {
		return fmt.Errorf("event %s not found", id)
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, ownerUserID, id uuid.UUID) (*entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.OwnerUserID != ownerUserID {
		return nil, nil
	}
	return r.clone(row), nil
}

func (r *fakeEventRepo) GetByExternalRef(_ context.Context, ownerUserID uuid.UUID, p entity.Provider, externalEventID string) (*entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OwnerUserID == ownerUserID && row.HasExternalRef(p) && *row.ExternalEventID == externalEventID {
			return r.clone(row), nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepo) GetByFormation(_ context.Context, ownerUserID, formationID uuid.UUID) (*entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OwnerUserID == ownerUserID && row.FormationID != nil && *row.FormationID == formationID {
			return r.clone(row), nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepo) ListByWindow(_ context.Context, ownerUserID uuid.UUID, start, end time.Time, eventType entity.EventType) ([]entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CalendarEvent
	for _, row := range r.rows {
		if row.OwnerUserID != ownerUserID {
			continue
		}
		if !row.StartAt.Before(end) || !row.EndAt.After(start) {
			continue
		}
		if eventType != "" && row.Type != eventType {
			continue
		}
		out = append(out, *r.clone(row))
	}
	return out, nil
}

func (r *fakeEventRepo) ListUpcoming(_ context.Context, ownerUserID uuid.UUID, limit int) ([]entity.CalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CalendarEvent
	for _, row := range r.rows {
		if row.OwnerUserID == ownerUserID && row.StartAt.After(time.Now()) && row.Status != entity.EventStatusCancelled {
			out = append(out, *r.clone(row))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEventRepo) ListExternalRefsInWindow(_ context.Context, ownerUserID uuid.UUID, p entity.Provider, start, end time.Time) (map[string]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make(map[string]uuid.UUID)
	for _, row := range r.rows {
		if row.OwnerUserID != ownerUserID || !row.HasExternalRef(p) || row.Status == entity.EventStatusCancelled {
			continue
		}
		if !row.StartAt.Before(end) || !row.EndAt.After(start) {
			continue
		}
		refs[*row.ExternalEventID] = row.ID
	}
	return refs, nil
}

func (r *fakeEventRepo) MarkCancelled(_ context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if row, ok := r.rows[id]; ok {
			row.Status = entity.EventStatusCancelled
			row.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *fakeEventRepo) SetExternalRef(_ context.Context, id uuid.UUID, p entity.Provider, externalEventID, etag string, externalUpdatedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	row.SetExternalRef(p, externalEventID, etag, externalUpdatedAt)
	return nil
}

func (r *fakeEventRepo) get(id uuid.UUID) *entity.CalendarEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return r.clone(row)
	}
	return nil
}

func (r *fakeEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeSyncStateRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entity.SyncState
}

func newFakeSyncStateRepo() *fakeSyncStateRepo {
	return &fakeSyncStateRepo{rows: make(map[uuid.UUID]*entity.SyncState)}
}

func (r *fakeSyncStateRepo) GetByIntegration(_ context.Context, integrationID uuid.UUID) (*entity.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[integrationID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeSyncStateRepo) SaveCursor(_ context.Context, integrationID uuid.UUID, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[integrationID]
	if !ok {
		row = &entity.SyncState{IntegrationID: integrationID}
		r.rows[integrationID] = row
	}
	row.PageCursor = cursor
	return nil
}

func (r *fakeSyncStateRepo) SaveResult(_ context.Context, integrationID uuid.UUID, syncedAt *time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[integrationID]
	if !ok {
		row = &entity.SyncState{IntegrationID: integrationID}
		r.rows[integrationID] = row
	}
	if syncedAt != nil {
		row.LastSyncAt = syncedAt
	}
	row.PageCursor = ""
	row.LastError = lastError
	return nil
}

func (r *fakeSyncStateRepo) SaveError(_ context.Context, integrationID uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[integrationID]
	if !ok {
		row = &entity.SyncState{IntegrationID: integrationID}
		r.rows[integrationID] = row
	}
	row.LastError = lastError
	return nil
}

// fakeAdapter scripts the remote side of a sync.
type fakeAdapter struct {
	mu        sync.Mutex
	pages     []*provider.ListPage
	listErr   error
	listErrOn int // 1-based list call on which listErr fires; 0 = every call
	listCalls int
	onList    func()

	created   []*entity.CalendarEvent
	updated   map[string]int
	deleted   []string
	createErr error
	updateErr error
	deleteErr error
	nextID    int
}

func newFakeAdapter(pages ...*provider.ListPage) *fakeAdapter {
	return &fakeAdapter{pages: pages, updated: make(map[string]int)}
}

func (a *fakeAdapter) ListEvents(_ context.Context, _ *entity.CalendarIntegration, _ provider.Window, cursor string) (*provider.ListPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	if a.onList != nil {
		a.onList()
	}
	if a.listErr != nil && (a.listErrOn == 0 || a.listCalls == a.listErrOn) {
		return nil, a.listErr
	}

	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "page-%d", &idx)
	}
	if idx >= len(a.pages) {
		return &provider.ListPage{}, nil
	}

	// Hand out copies so the orchestrator can mutate freely.
	src := a.pages[idx]
	page := &provider.ListPage{Failures: src.Failures, NextCursor: src.NextCursor}
	for _, ev := range src.Events {
		cp := *ev
		page.Events = append(page.Events, &cp)
	}
	return page, nil
}

func (a *fakeAdapter) CreateEvent(_ context.Context, _ *entity.CalendarIntegration, event *entity.CalendarEvent) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return "", a.createErr
	}
	a.nextID++
	a.created = append(a.created, event)
	return fmt.Sprintf("remote-%d", a.nextID), nil
}

func (a *fakeAdapter) UpdateEvent(_ context.Context, _ *entity.CalendarIntegration, externalEventID string, _ *entity.CalendarEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return a.updateErr
	}
	a.updated[externalEventID]++
	return nil
}

func (a *fakeAdapter) DeleteEvent(_ context.Context, _ *entity.CalendarIntegration, externalEventID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.deleted = append(a.deleted, externalEventID)
	return nil
}
