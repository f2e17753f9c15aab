package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lms-calendar-api/core/entity"
)

type EventType string

const (
	EventTypePersonal  EventType = "PERSONAL"
	EventTypeFormation EventType = "FORMATION"
	EventTypeMeeting   EventType = "MEETING"
	EventTypeCall      EventType = "CALL"
	EventTypeExternal  EventType = "EXTERNAL"
	EventTypeImported  EventType = "IMPORTED"
)

func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypePersonal, EventTypeFormation, EventTypeMeeting, EventTypeCall, EventTypeExternal, EventTypeImported:
		return EventType(s), true
	}
	return "", false
}

type EventStatus string

const (
	EventStatusConfirmed EventStatus = "CONFIRMED"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusPending   EventStatus = "PENDING"
)

// CalendarEvent is the canonical event representation owned by the platform,
// independent of any provider schema. When the external reference columns are
// set, (owner_user_id, external_provider, external_event_id) is unique and
// serves as the de-duplication key for imports.
type CalendarEvent struct {
	entity.BaseEntity
	OwnerUserID uuid.UUID      `db:"owner_user_id" json:"owner_user_id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	StartAt     time.Time      `db:"start_at" json:"start_at"`
	EndAt       time.Time      `db:"end_at" json:"end_at"`
	IsAllDay    bool           `db:"is_all_day" json:"is_all_day"`
	Location    string         `db:"location" json:"location"`
	Attendees   pq.StringArray `db:"attendees" json:"attendees"`
	Type        EventType      `db:"type" json:"type"`
	Status      EventStatus    `db:"status" json:"status"`
	Color       string         `db:"color" json:"color"`
	Reminders   pq.Int64Array  `db:"reminders" json:"reminders"`
	Recurrence  string         `db:"recurrence" json:"recurrence,omitempty"`
	FormationID *uuid.UUID     `db:"formation_id" json:"formation_id,omitempty"`

	// External reference; empty provider means the event was never mapped remotely.
	ExternalProvider  *Provider  `db:"external_provider" json:"-"`
	ExternalEventID   *string    `db:"external_event_id" json:"-"`
	ExternalEtag      *string    `db:"external_etag" json:"-"`
	ExternalUpdatedAt *time.Time `db:"external_updated_at" json:"-"`
}

func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// HasExternalRef reports whether the event is linked to a remote event for the provider.
func (e *CalendarEvent) HasExternalRef(provider Provider) bool {
	return e.ExternalProvider != nil && *e.ExternalProvider == provider &&
		e.ExternalEventID != nil && *e.ExternalEventID != ""
}

// SetExternalRef links the event to its remote counterpart.
func (e *CalendarEvent) SetExternalRef(provider Provider, externalID, etag string, updatedAt *time.Time) {
	e.ExternalProvider = &provider
	e.ExternalEventID = &externalID
	if etag != "" {
		e.ExternalEtag = &etag
	}
	e.ExternalUpdatedAt = updatedAt
}
