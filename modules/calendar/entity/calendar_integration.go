package entity

import (
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/entity"
)

// Provider identifies an external calendar service.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGoogle, ProviderOutlook:
		return Provider(s), true
	}
	return "", false
}

func AllProviders() []Provider {
	return []Provider{ProviderGoogle, ProviderOutlook}
}

// CalendarIntegration stores a user's link to one external calendar provider.
// At most one row exists per (user_id, provider). Token fields hold sealed
// ciphertext in the database; the repository opens them on read.
type CalendarIntegration struct {
	entity.BaseEntity
	UserID               uuid.UUID  `db:"user_id" json:"user_id"`
	Provider             Provider   `db:"provider" json:"provider"`
	ExternalAccountEmail string     `db:"external_account_email" json:"external_account_email"`
	ExternalAccountName  string     `db:"external_account_name" json:"external_account_name"`
	AccessToken          string     `db:"access_token" json:"-"`
	RefreshToken         string     `db:"refresh_token" json:"-"`
	TokenExpiresAt       time.Time  `db:"token_expires_at" json:"token_expires_at"`
	IsConnected          bool       `db:"is_connected" json:"is_connected"`
	SyncEnabled          bool       `db:"sync_enabled" json:"sync_enabled"`
	ImportEnabled        bool       `db:"import_enabled" json:"import_enabled"`
	ExportEnabled        bool       `db:"export_enabled" json:"export_enabled"`
	LastSyncAt           *time.Time `db:"last_sync_at" json:"last_sync_at"`
}

func (CalendarIntegration) TableName() string {
	return "calendar_integrations"
}

// TokenFresh reports whether the access token is still usable given the margin.
func (i *CalendarIntegration) TokenFresh(margin time.Duration) bool {
	return time.Now().Before(i.TokenExpiresAt.Add(-margin))
}
