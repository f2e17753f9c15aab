package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"lms-calendar-api/core/cache"
	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/errors"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/dto"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/provider"
	"lms-calendar-api/modules/calendar/repository"
)

// SyncService orchestrates import, export and two-way synchronization between
// the canonical calendar and the connected providers. At most one sync runs
// per integration at a time.
type SyncService interface {
	ImportEvents(ctx context.Context, userID uuid.UUID, p entity.Provider) (*dto.ImportResponse, *errors.AppError)
	TwoWaySync(ctx context.Context, userID uuid.UUID, p entity.Provider) (*dto.ImportResponse, *errors.AppError)
	ExportFormation(ctx context.Context, userID uuid.UUID, p entity.Provider, formationID uuid.UUID) *errors.AppError
	ExportEventToAll(ctx context.Context, userID uuid.UUID, event *entity.CalendarEvent) []dto.ExportResult
	DeleteRemoteCopies(ctx context.Context, userID uuid.UUID, event *entity.CalendarEvent)
	SyncAllConnected(ctx context.Context) error
	RetryRemoteDelete(ctx context.Context, payload RemoteDeletePayload) error
}

type syncService struct {
	integrations repository.IntegrationRepository
	events       repository.EventRepository
	syncStates   repository.SyncStateRepository
	registry     *provider.Registry
	cache        cache.Cache
	tasks        *asynq.Client
	windowDays   int

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewSyncService(
	integrations repository.IntegrationRepository,
	events repository.EventRepository,
	syncStates repository.SyncStateRepository,
	registry *provider.Registry,
	c cache.Cache,
	tasks *asynq.Client,
	windowDays int,
) SyncService {
	if windowDays <= 0 {
		windowDays = constants.DefaultSyncWindowDays
	}
	return &syncService{
		integrations: integrations,
		events:       events,
		syncStates:   syncStates,
		registry:     registry,
		cache:        c,
		tasks:        tasks,
		windowDays:   windowDays,
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *syncService) window() provider.Window {
	now := time.Now().UTC()
	return provider.Window{
		Start: now.AddDate(0, 0, -s.windowDays),
		End:   now.AddDate(0, 0, s.windowDays),
	}
}

// integrationLock returns the in-process mutex for an integration. The Redis
// lock guards across instances; this one avoids burning Redis round trips for
// callers in the same process.
func (s *syncService) integrationLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *syncService) acquire(ctx context.Context, integrationID uuid.UUID) (release func(), appErr *errors.AppError) {
	lock := s.integrationLock(integrationID)
	lock.Lock()

	ok, err := s.cache.AcquireSyncLock(ctx, integrationID.String(), constants.SyncLockTTL)
	if err != nil {
		lock.Unlock()
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to acquire sync lock", err)
	}
	if !ok {
		lock.Unlock()
		return nil, errors.NewAppError(errors.ErrAlreadyExists, "a sync is already running for this integration", nil)
	}
	return func() {
		if err := s.cache.ReleaseSyncLock(context.WithoutCancel(ctx), integrationID.String()); err != nil {
			logger.Warn("SyncService:ReleaseLock:Error", "error", err, "integration_id", integrationID)
		}
		lock.Unlock()
	}, nil
}

func (s *syncService) connectedIntegration(ctx context.Context, userID uuid.UUID, p entity.Provider) (*entity.CalendarIntegration, *errors.AppError) {
	integration, err := s.integrations.GetByUserAndProvider(ctx, userID, p)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load integration", err)
	}
	if integration == nil || !integration.IsConnected {
		return nil, errors.NewAppError(errors.ErrNotConnected, "calendar is not connected for provider "+string(p), nil)
	}
	return integration, nil
}

// ========== Import ==========

func (s *syncService) ImportEvents(ctx context.Context, userID uuid.UUID, p entity.Provider) (*dto.ImportResponse, *errors.AppError) {
	integration, appErr := s.connectedIntegration(ctx, userID, p)
	if appErr != nil {
		return nil, appErr
	}
	if !integration.ImportEnabled {
		return nil, errors.NewAppError(errors.ErrForbidden, "import is disabled for this integration", nil)
	}

	release, appErr := s.acquire(ctx, integration.ID)
	if appErr != nil {
		return nil, appErr
	}
	defer release()

	resp, err := s.runImport(ctx, integration)
	if err != nil {
		s.disconnectOnAuthFailure(ctx, integration, err)
		return nil, s.toAppError(err, "import failed")
	}
	if err := s.commitSyncResult(ctx, integration.ID, resp); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to record sync result", err)
	}
	return resp, nil
}

// runImport paginates the provider's window, deduplicates against existing
// external refs and cancels events that vanished remotely. The page cursor is
// persisted after every page so an interrupted import resumes rather than
// restarting. The caller commits lastSyncAt: a two-way sync must not record it
// until its export phase is also clean.
func (s *syncService) runImport(ctx context.Context, integration *entity.CalendarIntegration) (*dto.ImportResponse, error) {
	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return nil, err
	}

	window := s.window()

	// Snapshot of refs previously imported in this window; entries still
	// present after the walk belong to remotely deleted events.
	snapshot, err := s.events.ListExternalRefsInWindow(ctx, integration.UserID, integration.Provider, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	state, err := s.syncStates.GetByIntegration(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	cursor := ""
	if state != nil {
		cursor = state.PageCursor
	}
	// A resumed walk only sees the remaining pages, so its snapshot diff would
	// cancel everything the earlier pages already covered.
	fullWalk := cursor == ""

	resp := &dto.ImportResponse{}
	for {
		// A disconnect during a long import stops at the next page boundary.
		current, err := s.integrations.GetByID(ctx, integration.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || !current.IsConnected {
			return nil, errors.NewAppError(errors.ErrNotConnected, "integration was disconnected during import", nil)
		}

		page, err := adapter.ListEvents(ctx, current, window, cursor)
		if err != nil {
			s.recordSyncError(ctx, integration.ID, err)
			return nil, err
		}

		for _, remote := range page.Events {
			remote.OwnerUserID = integration.UserID
			if remote.ExternalEventID != nil {
				delete(snapshot, *remote.ExternalEventID)
			}
			if err := s.upsertImported(ctx, integration, remote, resp); err != nil {
				resp.Failures = append(resp.Failures, provider.ItemFailure{
					ExternalEventID: derefStr(remote.ExternalEventID),
					Reason:          err.Error(),
				})
			}
		}
		resp.Failures = append(resp.Failures, page.Failures...)
		resp.Total += len(page.Events) + len(page.Failures)

		cursor = page.NextCursor
		if err := s.syncStates.SaveCursor(ctx, integration.ID, cursor); err != nil {
			return nil, err
		}
		if cursor == "" {
			break
		}
	}

	// Whatever is left in the snapshot no longer exists remotely.
	if fullWalk && len(snapshot) > 0 {
		ids := make([]uuid.UUID, 0, len(snapshot))
		for _, id := range snapshot {
			ids = append(ids, id)
		}
		if err := s.events.MarkCancelled(ctx, ids); err != nil {
			return nil, err
		}
		logger.Info("SyncService:Import:RemoteRemovals", "integration_id", integration.ID, "cancelled", len(ids))
	}

	logger.Info("SyncService:Import:Done",
		"integration_id", integration.ID, "imported", resp.Imported, "total", resp.Total, "failures", len(resp.Failures))
	return resp, nil
}

// upsertImported applies one remote event to the local store using the
// (provider, externalEventId) de-duplication key.
func (s *syncService) upsertImported(ctx context.Context, integration *entity.CalendarIntegration, remote *entity.CalendarEvent, resp *dto.ImportResponse) error {
	if remote.ExternalEventID == nil || *remote.ExternalEventID == "" {
		return fmt.Errorf("remote event has no external id")
	}

	local, err := s.events.GetByExternalRef(ctx, integration.UserID, integration.Provider, *remote.ExternalEventID)
	if err != nil {
		return err
	}

	if local == nil {
		remote.Type = entity.EventTypeImported
		if _, err := s.events.Create(ctx, remote); err != nil {
			return err
		}
		resp.Imported++
		return nil
	}

	if !remoteWins(local, remote) {
		return nil
	}
	if unchangedSinceLastImport(local, remote) {
		return nil
	}

	merged := mergeRemoteIntoLocal(local, remote)
	if err := s.events.Update(ctx, merged); err != nil {
		return err
	}
	resp.Imported++
	return nil
}

// remoteWins resolves a conflicting edit: newer modification timestamp wins,
// ties and unknown timestamps go to the remote copy.
func remoteWins(local, remote *entity.CalendarEvent) bool {
	if remote.ExternalUpdatedAt == nil {
		return true
	}
	return !remote.ExternalUpdatedAt.Before(local.UpdatedAt)
}

// unchangedSinceLastImport detects a remote event the previous import already
// applied, so the local row (and its updated_at) stays untouched.
func unchangedSinceLastImport(local, remote *entity.CalendarEvent) bool {
	if remote.ExternalEtag != nil && local.ExternalEtag != nil {
		return *remote.ExternalEtag == *local.ExternalEtag
	}
	if remote.ExternalUpdatedAt != nil && local.ExternalUpdatedAt != nil {
		return remote.ExternalUpdatedAt.Equal(*local.ExternalUpdatedAt)
	}
	return false
}

// mergeRemoteIntoLocal applies the remote state onto the local row. An event
// this side exported (a FORMATION event) keeps its type and formation linkage;
// only scheduling fields are reconciled for it.
func mergeRemoteIntoLocal(local, remote *entity.CalendarEvent) *entity.CalendarEvent {
	local.Title = remote.Title
	local.StartAt = remote.StartAt
	local.EndAt = remote.EndAt
	local.IsAllDay = remote.IsAllDay
	local.Location = remote.Location
	local.Status = remote.Status
	local.ExternalEtag = remote.ExternalEtag
	local.ExternalUpdatedAt = remote.ExternalUpdatedAt

	if local.Type != entity.EventTypeFormation {
		local.Description = remote.Description
		local.Attendees = remote.Attendees
		local.Reminders = remote.Reminders
		local.Recurrence = remote.Recurrence
	}
	return local
}

// ========== Export ==========

func (s *syncService) ExportFormation(ctx context.Context, userID uuid.UUID, p entity.Provider, formationID uuid.UUID) *errors.AppError {
	integration, appErr := s.connectedIntegration(ctx, userID, p)
	if appErr != nil {
		return appErr
	}
	if !integration.ExportEnabled {
		return errors.NewAppError(errors.ErrForbidden, "export is disabled for this integration", nil)
	}

	event, err := s.events.GetByFormation(ctx, userID, formationID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load formation event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "no calendar event for formation "+formationID.String(), nil)
	}

	if err := s.exportEvent(ctx, integration, event); err != nil {
		s.disconnectOnAuthFailure(ctx, integration, err)
		return s.toAppError(err, "export failed")
	}
	return nil
}

// ExportEventToAll pushes one event to every connected integration with export
// enabled. Per-provider failures are reported, never fatal: one broken
// provider must not block the others.
func (s *syncService) ExportEventToAll(ctx context.Context, userID uuid.UUID, event *entity.CalendarEvent) []dto.ExportResult {
	integrations, err := s.integrations.ListByUser(ctx, userID)
	if err != nil {
		logger.Error("SyncService:ExportEventToAll:List:Error", "error", err, "user_id", userID)
		return nil
	}

	var results []dto.ExportResult
	for i := range integrations {
		integration := &integrations[i]
		if !integration.IsConnected || !integration.SyncEnabled || !integration.ExportEnabled {
			continue
		}
		result := dto.ExportResult{Provider: string(integration.Provider), Success: true}
		if err := s.exportEvent(ctx, integration, event); err != nil {
			result.Success = false
			result.Error = err.Error()
			s.disconnectOnAuthFailure(ctx, integration, err)
			logger.Warn("SyncService:ExportEventToAll:Failed",
				"provider", integration.Provider, "event_id", event.ID, "error", err)
		}
		results = append(results, result)
	}
	return results
}

// exportEvent creates or updates the remote counterpart and persists the
// external reference. A remote copy deleted out from under us is recreated.
func (s *syncService) exportEvent(ctx context.Context, integration *entity.CalendarIntegration, event *entity.CalendarEvent) error {
	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return err
	}

	if event.HasExternalRef(integration.Provider) {
		err := adapter.UpdateEvent(ctx, integration, *event.ExternalEventID, event)
		if err == nil {
			return s.recordExport(ctx, event, integration.Provider, *event.ExternalEventID, derefStr(event.ExternalEtag))
		}
		if !provider.IsNotFound(err) {
			return err
		}
		logger.Warn("SyncService:Export:RemoteGone:Recreating",
			"provider", integration.Provider, "event_id", event.ID)
	}

	externalID, err := adapter.CreateEvent(ctx, integration, event)
	if err != nil {
		return err
	}
	return s.recordExport(ctx, event, integration.Provider, externalID, "")
}

// recordExport persists the external ref stamped with the export time, so the
// next two-way cycle can tell an already-pushed event from a fresh local edit.
func (s *syncService) recordExport(ctx context.Context, event *entity.CalendarEvent, p entity.Provider, externalID, etag string) error {
	now := time.Now().UTC()
	event.SetExternalRef(p, externalID, etag, &now)
	return s.events.SetExternalRef(ctx, event.ID, p, externalID, etag, &now)
}

// DeleteRemoteCopies removes the remote counterpart after a local delete. The
// local delete already happened; remote failures are queued for retry and
// never surfaced to the caller.
func (s *syncService) DeleteRemoteCopies(ctx context.Context, userID uuid.UUID, event *entity.CalendarEvent) {
	if event.ExternalProvider == nil || event.ExternalEventID == nil {
		return
	}

	integration, err := s.integrations.GetByUserAndProvider(ctx, userID, *event.ExternalProvider)
	if err != nil || integration == nil || !integration.IsConnected {
		return
	}

	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return
	}

	err = adapter.DeleteEvent(ctx, integration, *event.ExternalEventID)
	if err == nil || provider.IsNotFound(err) {
		return
	}
	if provider.IsUnauthorized(err) {
		// Retrying with revoked credentials is pointless.
		s.disconnectOnAuthFailure(ctx, integration, err)
		return
	}

	logger.Warn("SyncService:DeleteRemote:Failed:Enqueuing",
		"provider", integration.Provider, "external_event_id", *event.ExternalEventID, "error", err)
	if s.tasks == nil {
		return
	}
	task, taskErr := NewRemoteDeleteTask(integration.ID, *event.ExternalEventID)
	if taskErr != nil {
		logger.Error("SyncService:DeleteRemote:Task:Error", "error", taskErr)
		return
	}
	if _, err := s.tasks.EnqueueContext(ctx, task, asynq.ProcessIn(time.Minute)); err != nil {
		logger.Error("SyncService:DeleteRemote:Enqueue:Error", "error", err)
	}
}

// RetryRemoteDelete is the asynq handler body for a queued remote delete.
// Returning an error lets asynq apply its retry policy.
func (s *syncService) RetryRemoteDelete(ctx context.Context, payload RemoteDeletePayload) error {
	integration, err := s.integrations.GetByID(ctx, payload.IntegrationID)
	if err != nil {
		return err
	}
	if integration == nil || !integration.IsConnected {
		logger.Info("SyncService:RetryRemoteDelete:Skipped:Disconnected", "integration_id", payload.IntegrationID)
		return nil
	}

	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return nil
	}

	err = adapter.DeleteEvent(ctx, integration, payload.ExternalEventID)
	if err == nil || provider.IsNotFound(err) {
		return nil
	}
	if provider.IsUnauthorized(err) {
		s.disconnectOnAuthFailure(ctx, integration, err)
		return nil
	}
	return err
}

// ========== Two-way ==========

func (s *syncService) TwoWaySync(ctx context.Context, userID uuid.UUID, p entity.Provider) (*dto.ImportResponse, *errors.AppError) {
	integration, appErr := s.connectedIntegration(ctx, userID, p)
	if appErr != nil {
		return nil, appErr
	}
	if !integration.SyncEnabled {
		return nil, errors.NewAppError(errors.ErrForbidden, "sync is disabled for this integration", nil)
	}

	release, appErr := s.acquire(ctx, integration.ID)
	if appErr != nil {
		return nil, appErr
	}
	defer release()

	resp := &dto.ImportResponse{}
	var importErr, exportErr error

	if integration.ImportEnabled {
		r, err := s.runImport(ctx, integration)
		if err != nil {
			importErr = err
		} else {
			resp = r
		}
	}
	if integration.ExportEnabled {
		exportErr = s.runExportPhase(ctx, integration)
	}

	if importErr != nil {
		s.disconnectOnAuthFailure(ctx, integration, importErr)
		return nil, s.toAppError(importErr, "two-way sync failed during import")
	}
	if exportErr != nil {
		// Import committed; record the export failure for the next run. The
		// lastSyncAt stamp stays put until a fully clean cycle.
		s.recordSyncError(ctx, integration.ID, exportErr)
		s.disconnectOnAuthFailure(ctx, integration, exportErr)
		return nil, s.toAppError(exportErr, "two-way sync failed during export")
	}

	if err := s.commitSyncResult(ctx, integration.ID, resp); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to record sync result", err)
	}
	return resp, nil
}

// runExportPhase pushes local formation events in the window that have no
// remote counterpart yet, or whose local copy changed since the last export.
func (s *syncService) runExportPhase(ctx context.Context, integration *entity.CalendarIntegration) error {
	window := s.window()
	locals, err := s.events.ListByWindow(ctx, integration.UserID, window.Start, window.End, entity.EventTypeFormation)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range locals {
		event := &locals[i]
		if event.Status == entity.EventStatusCancelled {
			continue
		}
		if event.HasExternalRef(integration.Provider) && !localNewerThanExport(event) {
			continue
		}
		if err := s.exportEvent(ctx, integration, event); err != nil {
			logger.Warn("SyncService:ExportPhase:Failed",
				"provider", integration.Provider, "event_id", event.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func localNewerThanExport(event *entity.CalendarEvent) bool {
	if event.ExternalUpdatedAt == nil {
		return true
	}
	return event.UpdatedAt.After(*event.ExternalUpdatedAt)
}

// ========== Background ==========

// SyncAllConnected runs a two-way sync for every connected integration with
// sync enabled. Used by the periodic worker task; failures are isolated per
// integration.
func (s *syncService) SyncAllConnected(ctx context.Context) error {
	integrations, err := s.integrations.ListConnected(ctx)
	if err != nil {
		return err
	}

	for i := range integrations {
		integration := &integrations[i]
		if !integration.SyncEnabled {
			continue
		}
		if _, appErr := s.TwoWaySync(ctx, integration.UserID, integration.Provider); appErr != nil {
			logger.Warn("SyncService:SyncAllConnected:Failed",
				"integration_id", integration.ID, "provider", integration.Provider, "error", appErr)
		}
	}
	return nil
}

// ========== Helpers ==========

// commitSyncResult stamps lastSyncAt and clears the page cursor. Called only
// after every phase of the run finished without a fatal error.
func (s *syncService) commitSyncResult(ctx context.Context, integrationID uuid.UUID, resp *dto.ImportResponse) error {
	now := time.Now().UTC()
	lastError := ""
	if len(resp.Failures) > 0 {
		lastError = fmt.Sprintf("%d of %d events failed to import", len(resp.Failures), resp.Total)
	}
	if err := s.syncStates.SaveResult(ctx, integrationID, &now, lastError); err != nil {
		return err
	}
	return s.integrations.UpdateLastSyncAt(ctx, integrationID, now)
}

// disconnectOnAuthFailure tombstones the integration when a provider call came
// back 401. The refresh path already disconnects on a rejected refresh token;
// this covers a token revoked between refresh and use, so the worker stops
// retrying and the client sees the reconnect state.
func (s *syncService) disconnectOnAuthFailure(ctx context.Context, integration *entity.CalendarIntegration, err error) {
	if provider.KindOf(err) != provider.KindUnauthorized {
		return
	}
	logger.Warn("SyncService:AuthFailure:Disconnecting",
		"integration_id", integration.ID, "provider", integration.Provider)
	if dbErr := s.integrations.Tombstone(context.WithoutCancel(ctx), integration.UserID, integration.Provider); dbErr != nil {
		logger.Error("SyncService:AuthFailure:Tombstone:Error", "error", dbErr, "integration_id", integration.ID)
	}
}

func (s *syncService) recordSyncError(ctx context.Context, integrationID uuid.UUID, err error) {
	if saveErr := s.syncStates.SaveError(context.WithoutCancel(ctx), integrationID, err.Error()); saveErr != nil {
		logger.Error("SyncService:RecordError:Error", "error", saveErr, "integration_id", integrationID)
	}
}

// toAppError maps provider taxonomy and passthrough AppErrors to the API error
// surface.
func (s *syncService) toAppError(err error, msg string) *errors.AppError {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch provider.KindOf(err) {
	case provider.KindRateLimited:
		return errors.NewAppError(errors.ErrRateLimited, "provider rate limit reached, try again later", err)
	case provider.KindUnauthorized:
		return errors.NewAppError(errors.ErrNotConnected, "provider rejected our credentials, please reconnect", err)
	case provider.KindPermanent:
		return errors.NewAppError(errors.ErrPermanentRejection, "provider rejected the request", err)
	case provider.KindTransient:
		return errors.NewAppError(errors.ErrProviderUnavailable, "provider is temporarily unavailable", err)
	case provider.KindNotFound:
		return errors.NewAppError(errors.ErrNotFound, "remote resource not found", err)
	}
	return errors.NewAppError(errors.ErrInternalServer, msg, err)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
