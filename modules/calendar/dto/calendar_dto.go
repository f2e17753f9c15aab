package dto

import (
	"time"

	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/provider"
)

// ========== Integration DTOs ==========

// IntegrationResponse is the API shape of a CalendarIntegration. Token values
// never leave the core; they are not part of this struct at all.
type IntegrationResponse struct {
	ID                   string     `json:"id"`
	Provider             string     `json:"provider"`
	ExternalAccountEmail string     `json:"external_account_email"`
	ExternalAccountName  string     `json:"external_account_name"`
	IsConnected          bool       `json:"is_connected"`
	SyncEnabled          bool       `json:"sync_enabled"`
	ImportEnabled        bool       `json:"import_enabled"`
	ExportEnabled        bool       `json:"export_enabled"`
	LastSyncAt           *time.Time `json:"last_sync_at"`
	ConnectedAt          string     `json:"connected_at"`
}

func ToIntegrationResponse(i *entity.CalendarIntegration) IntegrationResponse {
	return IntegrationResponse{
		ID:                   i.ID.String(),
		Provider:             string(i.Provider),
		ExternalAccountEmail: i.ExternalAccountEmail,
		ExternalAccountName:  i.ExternalAccountName,
		IsConnected:          i.IsConnected,
		SyncEnabled:          i.SyncEnabled,
		ImportEnabled:        i.ImportEnabled,
		ExportEnabled:        i.ExportEnabled,
		LastSyncAt:           i.LastSyncAt,
		ConnectedAt:          i.CreatedAt.Format(time.RFC3339),
	}
}

func ToIntegrationListResponse(integrations []entity.CalendarIntegration) []IntegrationResponse {
	result := make([]IntegrationResponse, 0, len(integrations))
	for i := range integrations {
		result = append(result, ToIntegrationResponse(&integrations[i]))
	}
	return result
}

type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

type CallbackRequest struct {
	Code  string `json:"code" validate:"required"`
	State string `json:"state" validate:"required"`
}

type SettingsRequest struct {
	SyncEnabled   bool `json:"sync_enabled"`
	ImportEnabled bool `json:"import_enabled"`
	ExportEnabled bool `json:"export_enabled"`
}

// ========== Sync DTOs ==========

type ImportResponse struct {
	Imported int                    `json:"imported"`
	Total    int                    `json:"total"`
	Failures []provider.ItemFailure `json:"failures,omitempty"`
}

type ExportFormationRequest struct {
	FormationID string `json:"formation_id" validate:"required"`
}

type ExportResult struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type SyncFormationResponse struct {
	Event   *EventResponse `json:"event"`
	Exports []ExportResult `json:"exports"`
}

// ========== Event DTOs ==========

type CreateEventRequest struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	StartAt     string   `json:"start_at" validate:"required"` // RFC3339
	EndAt       string   `json:"end_at" validate:"required"`   // RFC3339
	IsAllDay    bool     `json:"is_all_day"`
	Location    string   `json:"location"`
	Attendees   []string `json:"attendees"`
	Type        string   `json:"type"`
	Color       string   `json:"color"`
	Reminders   []int64  `json:"reminders"`
	Recurrence  string   `json:"recurrence"`
	FormationID string   `json:"formation_id"`
}

type UpdateEventRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	StartAt     *string  `json:"start_at"`
	EndAt       *string  `json:"end_at"`
	IsAllDay    *bool    `json:"is_all_day"`
	Location    *string  `json:"location"`
	Attendees   []string `json:"attendees"`
	Status      *string  `json:"status"`
	Color       *string  `json:"color"`
	Reminders   []int64  `json:"reminders"`
	Recurrence  *string  `json:"recurrence"`
}

type EventResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	IsAllDay    bool      `json:"is_all_day"`
	Location    string    `json:"location"`
	Attendees   []string  `json:"attendees"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Color       string    `json:"color"`
	Reminders   []int64   `json:"reminders"`
	Recurrence  string    `json:"recurrence,omitempty"`
	FormationID string    `json:"formation_id,omitempty"`
	Provider    string    `json:"provider,omitempty"` // set when the event is linked remotely
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ToEventResponse(e *entity.CalendarEvent) *EventResponse {
	resp := &EventResponse{
		ID:          e.ID.String(),
		Title:       e.Title,
		Description: e.Description,
		StartAt:     e.StartAt,
		EndAt:       e.EndAt,
		IsAllDay:    e.IsAllDay,
		Location:    e.Location,
		Attendees:   e.Attendees,
		Type:        string(e.Type),
		Status:      string(e.Status),
		Color:       e.Color,
		Reminders:   e.Reminders,
		Recurrence:  e.Recurrence,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.FormationID != nil {
		resp.FormationID = e.FormationID.String()
	}
	if e.ExternalProvider != nil {
		resp.Provider = string(*e.ExternalProvider)
	}
	return resp
}

func ToEventListResponse(events []entity.CalendarEvent) []*EventResponse {
	result := make([]*EventResponse, 0, len(events))
	for i := range events {
		result = append(result, ToEventResponse(&events[i]))
	}
	return result
}
