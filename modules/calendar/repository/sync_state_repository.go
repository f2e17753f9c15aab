package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/database"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/entity"
)

type SyncStateRepository interface {
	GetByIntegration(ctx context.Context, integrationID uuid.UUID) (*entity.SyncState, error)
	SaveCursor(ctx context.Context, integrationID uuid.UUID, cursor string) error
	SaveResult(ctx context.Context, integrationID uuid.UUID, syncedAt *time.Time, lastError string) error
	SaveError(ctx context.Context, integrationID uuid.UUID, lastError string) error
}

type syncStateRepository struct {
	db database.Database
}

func NewSyncStateRepository(db database.Database) SyncStateRepository {
	return &syncStateRepository{db: db}
}

func (r *syncStateRepository) GetByIntegration(ctx context.Context, integrationID uuid.UUID) (*entity.SyncState, error) {
	var state entity.SyncState
	query := `
		SELECT id, integration_id, last_sync_at, page_cursor, last_error, created_at, updated_at
		FROM calendar_sync_states
		WHERE integration_id = $1
	`
	err := r.db.GetContext(ctx, &state, query, integrationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("SyncStateRepository:GetByIntegration:Error", "error", err, "integration_id", integrationID)
		return nil, err
	}
	return &state, nil
}

// SaveCursor commits the page cursor after each imported page so a crashed
// import resumes from the next provider-supplied page.
func (r *syncStateRepository) SaveCursor(ctx context.Context, integrationID uuid.UUID, cursor string) error {
	query := `
		INSERT INTO calendar_sync_states (id, integration_id, page_cursor, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, NOW(), NOW())
		ON CONFLICT (integration_id)
		DO UPDATE SET page_cursor = $2, updated_at = NOW()
	`
	if err := r.db.ExecContext(ctx, query, integrationID, cursor); err != nil {
		logger.Error("SyncStateRepository:SaveCursor:Error", "error", err, "integration_id", integrationID)
		return err
	}
	return nil
}

func (r *syncStateRepository) SaveResult(ctx context.Context, integrationID uuid.UUID, syncedAt *time.Time, lastError string) error {
	query := `
		INSERT INTO calendar_sync_states (id, integration_id, last_sync_at, page_cursor, last_error, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, '', $3, NOW(), NOW())
		ON CONFLICT (integration_id)
		DO UPDATE SET
			last_sync_at = COALESCE($2, calendar_sync_states.last_sync_at),
			page_cursor = '',
			last_error = $3,
			updated_at = NOW()
	`
	if err := r.db.ExecContext(ctx, query, integrationID, syncedAt, lastError); err != nil {
		logger.Error("SyncStateRepository:SaveResult:Error", "error", err, "integration_id", integrationID)
		return err
	}
	return nil
}

// SaveError records a mid-walk failure. The page cursor is left alone so the
// next run resumes where this one stopped.
func (r *syncStateRepository) SaveError(ctx context.Context, integrationID uuid.UUID, lastError string) error {
	query := `
		INSERT INTO calendar_sync_states (id, integration_id, last_error, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, NOW(), NOW())
		ON CONFLICT (integration_id)
		DO UPDATE SET last_error = $2, updated_at = NOW()
	`
	if err := r.db.ExecContext(ctx, query, integrationID, lastError); err != nil {
		logger.Error("SyncStateRepository:SaveError:Error", "error", err, "integration_id", integrationID)
		return err
	}
	return nil
}
