package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/database"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/core/utils"
	"lms-calendar-api/modules/calendar/entity"
)

type IntegrationRepository interface {
	Upsert(ctx context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.CalendarIntegration, error)
	GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider entity.Provider) (*entity.CalendarIntegration, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]entity.CalendarIntegration, error)
	ListConnected(ctx context.Context) ([]entity.CalendarIntegration, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateSettings(ctx context.Context, id uuid.UUID, syncEnabled, importEnabled, exportEnabled bool) error
	UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error
	Tombstone(ctx context.Context, userID uuid.UUID, provider entity.Provider) error
}

// integrationRepository persists CalendarIntegration rows. Token columns hold
// sealed ciphertext; sealing and opening happen here so nothing above the
// repository ever reads a raw token out of the database.
type integrationRepository struct {
	db     database.Database
	cipher *utils.TokenCipher
}

func NewIntegrationRepository(db database.Database, cipher *utils.TokenCipher) IntegrationRepository {
	return &integrationRepository{db: db, cipher: cipher}
}

const integrationColumns = `
	id, user_id, provider, external_account_email, external_account_name,
	access_token, refresh_token, token_expires_at,
	is_connected, sync_enabled, import_enabled, export_enabled, last_sync_at,
	created_at, updated_at
`

func (r *integrationRepository) Upsert(ctx context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error) {
	accessToken, err := r.cipher.Seal(integration.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := r.cipher.Seal(integration.RefreshToken)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO calendar_integrations (
			id, user_id, provider, external_account_email, external_account_name,
			access_token, refresh_token, token_expires_at,
			is_connected, sync_enabled, import_enabled, export_enabled,
			created_at, updated_at
		)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			external_account_email = EXCLUDED.external_account_email,
			external_account_name = EXCLUDED.external_account_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_connected = EXCLUDED.is_connected,
			sync_enabled = EXCLUDED.sync_enabled,
			import_enabled = EXCLUDED.import_enabled,
			export_enabled = EXCLUDED.export_enabled,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		integration.UserID, integration.Provider,
		integration.ExternalAccountEmail, integration.ExternalAccountName,
		accessToken, refreshToken, integration.TokenExpiresAt,
		integration.IsConnected, integration.SyncEnabled, integration.ImportEnabled, integration.ExportEnabled,
	).Scan(&integration.ID, &integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		logger.Error("IntegrationRepository:Upsert:Error", "error", err, "user_id", integration.UserID, "provider", integration.Provider)
		return nil, err
	}
	return integration, nil
}

func (r *integrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.CalendarIntegration, error) {
	var integration entity.CalendarIntegration
	query := `SELECT ` + integrationColumns + ` FROM calendar_integrations WHERE id = $1`
	err := r.db.GetContext(ctx, &integration, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("IntegrationRepository:GetByID:Error", "error", err, "id", id)
		return nil, err
	}
	return r.open(&integration)
}

func (r *integrationRepository) GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider entity.Provider) (*entity.CalendarIntegration, error) {
	var integration entity.CalendarIntegration
	query := `SELECT ` + integrationColumns + ` FROM calendar_integrations WHERE user_id = $1 AND provider = $2`
	err := r.db.GetContext(ctx, &integration, query, userID, provider)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("IntegrationRepository:GetByUserAndProvider:Error", "error", err, "user_id", userID, "provider", provider)
		return nil, err
	}
	return r.open(&integration)
}

func (r *integrationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]entity.CalendarIntegration, error) {
	var integrations []entity.CalendarIntegration
	query := `SELECT ` + integrationColumns + ` FROM calendar_integrations WHERE user_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &integrations, query, userID); err != nil {
		logger.Error("IntegrationRepository:ListByUser:Error", "error", err, "user_id", userID)
		return nil, err
	}
	for i := range integrations {
		if _, err := r.open(&integrations[i]); err != nil {
			return nil, err
		}
	}
	return integrations, nil
}

func (r *integrationRepository) ListConnected(ctx context.Context) ([]entity.CalendarIntegration, error) {
	var integrations []entity.CalendarIntegration
	query := `SELECT ` + integrationColumns + ` FROM calendar_integrations WHERE is_connected = true AND sync_enabled = true ORDER BY last_sync_at ASC NULLS FIRST`
	if err := r.db.SelectContext(ctx, &integrations, query); err != nil {
		logger.Error("IntegrationRepository:ListConnected:Error", "error", err)
		return nil, err
	}
	for i := range integrations {
		if _, err := r.open(&integrations[i]); err != nil {
			return nil, err
		}
	}
	return integrations, nil
}

func (r *integrationRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	sealedAccess, err := r.cipher.Seal(accessToken)
	if err != nil {
		return err
	}
	sealedRefresh, err := r.cipher.Seal(refreshToken)
	if err != nil {
		return err
	}
	query := `
		UPDATE calendar_integrations
		SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	if err := r.db.ExecContext(ctx, query, sealedAccess, sealedRefresh, expiresAt, id); err != nil {
		logger.Error("IntegrationRepository:UpdateTokens:Error", "error", err, "id", id)
		return err
	}
	return nil
}

func (r *integrationRepository) UpdateSettings(ctx context.Context, id uuid.UUID, syncEnabled, importEnabled, exportEnabled bool) error {
	query := `
		UPDATE calendar_integrations
		SET sync_enabled = $1, import_enabled = $2, export_enabled = $3, updated_at = NOW()
		WHERE id = $4
	`
	if err := r.db.ExecContext(ctx, query, syncEnabled, importEnabled, exportEnabled, id); err != nil {
		logger.Error("IntegrationRepository:UpdateSettings:Error", "error", err, "id", id)
		return err
	}
	return nil
}

func (r *integrationRepository) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE calendar_integrations SET last_sync_at = $1, updated_at = NOW() WHERE id = $2`
	if err := r.db.ExecContext(ctx, query, at, id); err != nil {
		logger.Error("IntegrationRepository:UpdateLastSyncAt:Error", "error", err, "id", id)
		return err
	}
	return nil
}

// Tombstone marks the integration disconnected and purges its tokens. The row
// is kept so settings survive a later reconnect.
func (r *integrationRepository) Tombstone(ctx context.Context, userID uuid.UUID, provider entity.Provider) error {
	query := `
		UPDATE calendar_integrations
		SET is_connected = false, sync_enabled = false,
			access_token = '', refresh_token = '', token_expires_at = to_timestamp(0),
			updated_at = NOW()
		WHERE user_id = $1 AND provider = $2
	`
	if err := r.db.ExecContext(ctx, query, userID, provider); err != nil {
		logger.Error("IntegrationRepository:Tombstone:Error", "error", err, "user_id", userID, "provider", provider)
		return err
	}
	return nil
}

func (r *integrationRepository) open(integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error) {
	accessToken, err := r.cipher.Open(integration.AccessToken)
	if err != nil {
		logger.Error("IntegrationRepository:OpenToken:Error", "error", err, "id", integration.ID)
		return nil, err
	}
	refreshToken, err := r.cipher.Open(integration.RefreshToken)
	if err != nil {
		logger.Error("IntegrationRepository:OpenToken:Error", "error", err, "id", integration.ID)
		return nil, err
	}
	integration.AccessToken = accessToken
	integration.RefreshToken = refreshToken
	return integration, nil
}
