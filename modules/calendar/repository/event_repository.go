package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lms-calendar-api/core/database"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/entity"
)

type EventRepository interface {
	Create(ctx context.Context, event *entity.CalendarEvent) (*entity.CalendarEvent, error)
	Update(ctx context.Context, event *entity.CalendarEvent) error
	Delete(ctx context.Context, ownerUserID, id uuid.UUID) error
	GetByID(ctx context.Context, ownerUserID, id uuid.UUID) (*entity.CalendarEvent, error)
	GetByExternalRef(ctx context.Context, ownerUserID uuid.UUID, provider entity.Provider, externalEventID string) (*entity.CalendarEvent, error)
	GetByFormation(ctx context.Context, ownerUserID, formationID uuid.UUID) (*entity.CalendarEvent, error)
	ListByWindow(ctx context.Context, ownerUserID uuid.UUID, start, end time.Time, eventType entity.EventType) ([]entity.CalendarEvent, error)
	ListUpcoming(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]entity.CalendarEvent, error)
	ListExternalRefsInWindow(ctx context.Context, ownerUserID uuid.UUID, provider entity.Provider, start, end time.Time) (map[string]uuid.UUID, error)
	MarkCancelled(ctx context.Context, ids []uuid.UUID) error
	SetExternalRef(ctx context.Context, id uuid.UUID, provider entity.Provider, externalEventID, etag string, externalUpdatedAt *time.Time) error
}

type eventRepository struct {
	db database.Database
}

func NewEventRepository(db database.Database) EventRepository {
	return &eventRepository{db: db}
}

const eventColumns = `
	id, owner_user_id, title, description, start_at, end_at, is_all_day, location,
	attendees, type, status, color, reminders, recurrence, formation_id,
	external_provider, external_event_id, external_etag, external_updated_at,
	created_at, updated_at
`

func (r *eventRepository) Create(ctx context.Context, event *entity.CalendarEvent) (*entity.CalendarEvent, error) {
	query := `
		INSERT INTO calendar_events (
			id, owner_user_id, title, description, start_at, end_at, is_all_day, location,
			attendees, type, status, color, reminders, recurrence, formation_id,
			external_provider, external_event_id, external_etag, external_updated_at,
			created_at, updated_at
		)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		event.OwnerUserID, event.Title, event.Description, event.StartAt, event.EndAt,
		event.IsAllDay, event.Location, event.Attendees, event.Type, event.Status,
		event.Color, event.Reminders, event.Recurrence, event.FormationID,
		event.ExternalProvider, event.ExternalEventID, event.ExternalEtag, event.ExternalUpdatedAt,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		logger.Error("EventRepository:Create:Error", "error", err, "owner_user_id", event.OwnerUserID)
		return nil, err
	}
	return event, nil
}

func (r *eventRepository) Update(ctx context.Context, event *entity.CalendarEvent) error {
	query := `
		UPDATE calendar_events
		SET title = $1, description = $2, start_at = $3, end_at = $4, is_all_day = $5,
			location = $6, attendees = $7, type = $8, status = $9, color = $10,
			reminders = $11, recurrence = $12, formation_id = $13,
			external_provider = $14, external_event_id = $15, external_etag = $16, external_updated_at = $17,
			updated_at = NOW()
		WHERE id = $18 AND owner_user_id = $19
	`
	err := r.db.ExecContext(ctx, query,
		event.Title, event.Description, event.StartAt, event.EndAt, event.IsAllDay,
		event.Location, event.Attendees, event.Type, event.Status, event.Color,
		event.Reminders, event.Recurrence, event.FormationID,
		event.ExternalProvider, event.ExternalEventID, event.ExternalEtag, event.ExternalUpdatedAt,
		event.ID, event.OwnerUserID,
	)
	if err != nil {
		logger.Error("EventRepository:Update:Error", "error", err, "id", event.ID)
		return err
	}
	return nil
}

func (r *eventRepository) Delete(ctx context.Context, ownerUserID, id uuid.UUID) error {
	query := `DELETE FROM calendar_events WHERE id = $1 AND owner_user_id = $2`
	if err := r.db.ExecContext(ctx, query, id, ownerUserID); err != nil {
		logger.Error("EventRepository:Delete:Error", "error", err, "id", id)
		return err
	}
	return nil
}

func (r *eventRepository) GetByID(ctx context.Context, ownerUserID, id uuid.UUID) (*entity.CalendarEvent, error) {
	var event entity.CalendarEvent
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id = $1 AND owner_user_id = $2`
	err := r.db.GetContext(ctx, &event, query, id, ownerUserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetByID:Error", "error", err, "id", id)
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) GetByExternalRef(ctx context.Context, ownerUserID uuid.UUID, provider entity.Provider, externalEventID string) (*entity.CalendarEvent, error) {
	var event entity.CalendarEvent
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE owner_user_id = $1 AND external_provider = $2 AND external_event_id = $3
	`
	err := r.db.GetContext(ctx, &event, query, ownerUserID, provider, externalEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetByExternalRef:Error", "error", err, "external_event_id", externalEventID)
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) GetByFormation(ctx context.Context, ownerUserID, formationID uuid.UUID) (*entity.CalendarEvent, error) {
	var event entity.CalendarEvent
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE owner_user_id = $1 AND formation_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &event, query, ownerUserID, formationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetByFormation:Error", "error", err, "formation_id", formationID)
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) ListByWindow(ctx context.Context, ownerUserID uuid.UUID, start, end time.Time, eventType entity.EventType) ([]entity.CalendarEvent, error) {
	var events []entity.CalendarEvent
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE owner_user_id = $1 AND start_at < $3 AND end_at > $2
	`
	args := []any{ownerUserID, start, end}
	if eventType != "" {
		query += ` AND type = $4`
		args = append(args, eventType)
	}
	query += ` ORDER BY start_at ASC`

	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		logger.Error("EventRepository:ListByWindow:Error", "error", err, "owner_user_id", ownerUserID)
		return nil, err
	}
	return events, nil
}

func (r *eventRepository) ListUpcoming(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]entity.CalendarEvent, error) {
	var events []entity.CalendarEvent
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE owner_user_id = $1 AND start_at >= NOW() AND status != $2
		ORDER BY start_at ASC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &events, query, ownerUserID, entity.EventStatusCancelled, limit); err != nil {
		logger.Error("EventRepository:ListUpcoming:Error", "error", err, "owner_user_id", ownerUserID)
		return nil, err
	}
	return events, nil
}

// ListExternalRefsInWindow returns external_event_id -> local id for every
// non-cancelled event of the provider overlapping the window. The import diff
// compares this snapshot against the remote listing to find vanished events.
func (r *eventRepository) ListExternalRefsInWindow(ctx context.Context, ownerUserID uuid.UUID, provider entity.Provider, start, end time.Time) (map[string]uuid.UUID, error) {
	query := `
		SELECT external_event_id, id
		FROM calendar_events
		WHERE owner_user_id = $1 AND external_provider = $2
		AND start_at < $4 AND end_at > $3
		AND status != $5
	`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID, provider, start, end, entity.EventStatusCancelled)
	if err != nil {
		logger.Error("EventRepository:ListExternalRefsInWindow:Error", "error", err, "owner_user_id", ownerUserID)
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]uuid.UUID)
	for rows.Next() {
		var externalID string
		var id uuid.UUID
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		refs[externalID] = id
	}
	return refs, rows.Err()
}

func (r *eventRepository) MarkCancelled(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE calendar_events SET status = $1, updated_at = NOW() WHERE id = ANY($2)`
	if err := r.db.ExecContext(ctx, query, entity.EventStatusCancelled, pq.Array(ids)); err != nil {
		logger.Error("EventRepository:MarkCancelled:Error", "error", err, "count", len(ids))
		return err
	}
	return nil
}

// SetExternalRef links the row to its remote counterpart. updated_at is left
// alone so an export stamp does not read as a local edit.
func (r *eventRepository) SetExternalRef(ctx context.Context, id uuid.UUID, provider entity.Provider, externalEventID, etag string, externalUpdatedAt *time.Time) error {
	query := `
		UPDATE calendar_events
		SET external_provider = $1, external_event_id = $2, external_etag = NULLIF($3, ''), external_updated_at = $4
		WHERE id = $5
	`
	if err := r.db.ExecContext(ctx, query, provider, externalEventID, etag, externalUpdatedAt, id); err != nil {
		logger.Error("EventRepository:SetExternalRef:Error", "error", err, "id", id)
		return err
	}
	return nil
}
