package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/errors"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/dto"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/repository"
)

// EventService owns the canonical calendar events and triggers exports to the
// connected providers when formation events change.
type EventService interface {
	Create(ctx context.Context, userID uuid.UUID, req *dto.CreateEventRequest) (*dto.EventResponse, *errors.AppError)
	Update(ctx context.Context, userID, id uuid.UUID, req *dto.UpdateEventRequest) (*dto.EventResponse, *errors.AppError)
	Delete(ctx context.Context, userID, id uuid.UUID) *errors.AppError
	GetByID(ctx context.Context, userID, id uuid.UUID) (*dto.EventResponse, *errors.AppError)
	ListByWindow(ctx context.Context, userID uuid.UUID, start, end time.Time, eventType string) ([]*dto.EventResponse, *errors.AppError)
	ListUpcoming(ctx context.Context, userID uuid.UUID, limit int) ([]*dto.EventResponse, *errors.AppError)
	SyncFormation(ctx context.Context, userID, formationID uuid.UUID) (*dto.SyncFormationResponse, *errors.AppError)
}

type eventService struct {
	events repository.EventRepository
	sync   SyncService
}

func NewEventService(events repository.EventRepository, sync SyncService) EventService {
	return &eventService{events: events, sync: sync}
}

func (s *eventService) Create(ctx context.Context, userID uuid.UUID, req *dto.CreateEventRequest) (*dto.EventResponse, *errors.AppError) {
	event, appErr := buildEventFromCreate(userID, req)
	if appErr != nil {
		return nil, appErr
	}

	created, err := s.events.Create(ctx, event)
	if err != nil {
		logger.Error("EventService:Create:Error", "error", err, "user_id", userID)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create event", err)
	}

	s.exportIfFormation(ctx, userID, created)
	return dto.ToEventResponse(created), nil
}

func (s *eventService) Update(ctx context.Context, userID, id uuid.UUID, req *dto.UpdateEventRequest) (*dto.EventResponse, *errors.AppError) {
	event, err := s.events.GetByID(ctx, userID, id)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}

	if appErr := applyEventUpdate(event, req); appErr != nil {
		return nil, appErr
	}
	if err := s.events.Update(ctx, event); err != nil {
		logger.Error("EventService:Update:Error", "error", err, "event_id", id)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update event", err)
	}

	s.exportIfFormation(ctx, userID, event)
	return dto.ToEventResponse(event), nil
}

// Delete removes the local row first, then clears remote copies best-effort.
// A provider outage never blocks a local delete.
func (s *eventService) Delete(ctx context.Context, userID, id uuid.UUID) *errors.AppError {
	event, err := s.events.GetByID(ctx, userID, id)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}

	if err := s.events.Delete(ctx, userID, id); err != nil {
		logger.Error("EventService:Delete:Error", "error", err, "event_id", id)
		return errors.NewAppError(errors.ErrInternalServer, "failed to delete event", err)
	}

	s.sync.DeleteRemoteCopies(ctx, userID, event)
	return nil
}

func (s *eventService) GetByID(ctx context.Context, userID, id uuid.UUID) (*dto.EventResponse, *errors.AppError) {
	event, err := s.events.GetByID(ctx, userID, id)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load event", err)
	}
	if event == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "event not found", nil)
	}
	return dto.ToEventResponse(event), nil
}

func (s *eventService) ListByWindow(ctx context.Context, userID uuid.UUID, start, end time.Time, eventType string) ([]*dto.EventResponse, *errors.AppError) {
	if !end.After(start) {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "end_date must be after start_date", nil)
	}

	var typ entity.EventType
	if eventType != "" {
		parsed, ok := entity.ParseEventType(eventType)
		if !ok {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown event type: "+eventType, nil)
		}
		typ = parsed
	}

	events, err := s.events.ListByWindow(ctx, userID, start, end, typ)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list events", err)
	}
	return dto.ToEventListResponse(events), nil
}

func (s *eventService) ListUpcoming(ctx context.Context, userID uuid.UUID, limit int) ([]*dto.EventResponse, *errors.AppError) {
	events, err := s.events.ListUpcoming(ctx, userID, limit)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list upcoming events", err)
	}
	return dto.ToEventListResponse(events), nil
}

// SyncFormation pushes the formation's calendar event to every connected
// provider and reports the per-provider outcome.
func (s *eventService) SyncFormation(ctx context.Context, userID, formationID uuid.UUID) (*dto.SyncFormationResponse, *errors.AppError) {
	event, err := s.events.GetByFormation(ctx, userID, formationID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load formation event", err)
	}
	if event == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "no calendar event for formation "+formationID.String(), nil)
	}

	exports := s.sync.ExportEventToAll(ctx, userID, event)
	return &dto.SyncFormationResponse{
		Event:   dto.ToEventResponse(event),
		Exports: exports,
	}, nil
}

func (s *eventService) exportIfFormation(ctx context.Context, userID uuid.UUID, event *entity.CalendarEvent) {
	if event.Type != entity.EventTypeFormation {
		return
	}
	s.sync.ExportEventToAll(ctx, userID, event)
}

// ========== Request mapping ==========

func buildEventFromCreate(userID uuid.UUID, req *dto.CreateEventRequest) (*entity.CalendarEvent, *errors.AppError) {
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "start_at must be RFC3339", err)
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "end_at must be RFC3339", err)
	}
	if !endAt.After(startAt) {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "end_at must be after start_at", nil)
	}

	typ := entity.EventTypePersonal
	if req.Type != "" {
		parsed, ok := entity.ParseEventType(req.Type)
		if !ok {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown event type: "+req.Type, nil)
		}
		typ = parsed
	}

	event := &entity.CalendarEvent{
		OwnerUserID: userID,
		Title:       req.Title,
		Description: req.Description,
		StartAt:     startAt,
		EndAt:       endAt,
		IsAllDay:    req.IsAllDay,
		Location:    req.Location,
		Attendees:   req.Attendees,
		Type:        typ,
		Status:      entity.EventStatusConfirmed,
		Color:       req.Color,
		Reminders:   req.Reminders,
		Recurrence:  req.Recurrence,
	}

	if req.FormationID != "" {
		formationID, err := uuid.Parse(req.FormationID)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "formation_id must be a UUID", err)
		}
		event.FormationID = &formationID
		event.Type = entity.EventTypeFormation
	}
	return event, nil
}

func applyEventUpdate(event *entity.CalendarEvent, req *dto.UpdateEventRequest) *errors.AppError {
	if req.Title != nil {
		event.Title = *req.Title
	}
	if req.Description != nil {
		event.Description = *req.Description
	}
	if req.StartAt != nil {
		startAt, err := time.Parse(time.RFC3339, *req.StartAt)
		if err != nil {
			return errors.NewAppError(errors.ErrInvalidInput, "start_at must be RFC3339", err)
		}
		event.StartAt = startAt
	}
	if req.EndAt != nil {
		endAt, err := time.Parse(time.RFC3339, *req.EndAt)
		if err != nil {
			return errors.NewAppError(errors.ErrInvalidInput, "end_at must be RFC3339", err)
		}
		event.EndAt = endAt
	}
	if !event.EndAt.After(event.StartAt) {
		return errors.NewAppError(errors.ErrInvalidInput, "end_at must be after start_at", nil)
	}
	if req.IsAllDay != nil {
		event.IsAllDay = *req.IsAllDay
	}
	if req.Location != nil {
		event.Location = *req.Location
	}
	if req.Attendees != nil {
		event.Attendees = req.Attendees
	}
	if req.Status != nil {
		switch entity.EventStatus(*req.Status) {
		case entity.EventStatusConfirmed, entity.EventStatusCancelled, entity.EventStatusPending:
			event.Status = entity.EventStatus(*req.Status)
		default:
			return errors.NewAppError(errors.ErrInvalidInput, "unknown event status: "+*req.Status, nil)
		}
	}
	if req.Color != nil {
		event.Color = *req.Color
	}
	if req.Reminders != nil {
		event.Reminders = req.Reminders
	}
	if req.Recurrence != nil {
		event.Recurrence = *req.Recurrence
	}
	return nil
}
