package mapper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/lib/pq"

	"lms-calendar-api/core/constants"
	"lms-calendar-api/modules/calendar/entity"
)

// Google-style wire shapes (provider A).

type GoogleEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type GoogleAttendee struct {
	Email string `json:"email"`
}

type GoogleReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type GoogleReminders struct {
	UseDefault bool                     `json:"useDefault"`
	Overrides  []GoogleReminderOverride `json:"overrides,omitempty"`
}

type GoogleExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

type GoogleEvent struct {
	ID                 string                    `json:"id,omitempty"`
	Etag               string                    `json:"etag,omitempty"`
	ICalUID            string                    `json:"iCalUID,omitempty"`
	Summary            string                    `json:"summary,omitempty"`
	Description        string                    `json:"description,omitempty"`
	Location           string                    `json:"location,omitempty"`
	Status             string                    `json:"status,omitempty"`
	ColorID            string                    `json:"colorId,omitempty"`
	Start              *GoogleEventTime          `json:"start,omitempty"`
	End                *GoogleEventTime          `json:"end,omitempty"`
	Attendees          []GoogleAttendee          `json:"attendees,omitempty"`
	Reminders          *GoogleReminders          `json:"reminders,omitempty"`
	Recurrence         []string                  `json:"recurrence,omitempty"`
	Updated            string                    `json:"updated,omitempty"`
	ExtendedProperties *GoogleExtendedProperties `json:"extendedProperties,omitempty"`
}

const googleDateLayout = "2006-01-02"

// ExportICalUID builds a stable idempotency key for exported platform events so a
// re-export of the same event resolves to the same remote object.
func ExportICalUID(ev *entity.CalendarEvent) string {
	return fmt.Sprintf("%s-%s@lms-calendar", slug.Make(ev.Title), ev.ID)
}

// ToGoogleEvent maps a canonical event onto the Google-style payload. The mapping
// is total: reminders beyond the provider cap are dropped, offsets clamped to the
// provider's accepted range, unsupported canonical fields omitted.
func ToGoogleEvent(ev *entity.CalendarEvent) *GoogleEvent {
	p := &GoogleEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      googleStatus(ev.Status),
		ICalUID:     ExportICalUID(ev),
	}

	if ev.IsAllDay {
		p.Start = &GoogleEventTime{Date: ev.StartAt.Format(googleDateLayout)}
		p.End = &GoogleEventTime{Date: ev.EndAt.Format(googleDateLayout)}
	} else {
		p.Start = &GoogleEventTime{DateTime: ev.StartAt.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		p.End = &GoogleEventTime{DateTime: ev.EndAt.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}

	for _, a := range ev.Attendees {
		p.Attendees = append(p.Attendees, GoogleAttendee{Email: a})
	}

	if len(ev.Reminders) > 0 {
		overrides := make([]GoogleReminderOverride, 0, len(ev.Reminders))
		for _, m := range ev.Reminders {
			if len(overrides) == constants.MaxProviderReminders {
				break
			}
			overrides = append(overrides, GoogleReminderOverride{Method: "popup", Minutes: clampReminder(int(m))})
		}
		p.Reminders = &GoogleReminders{UseDefault: false, Overrides: overrides}
	}

	if ev.Recurrence != "" {
		p.Recurrence = []string{ev.Recurrence}
	}

	private := map[string]string{}
	if ev.FormationID != nil {
		private["formationId"] = ev.FormationID.String()
	}
	if ev.Type != "" {
		private["eventType"] = string(ev.Type)
	}
	if len(private) > 0 {
		p.ExtendedProperties = &GoogleExtendedProperties{Private: private}
	}

	return p
}

// FromGoogleEvent maps a Google-style payload back to a canonical event. Unknown
// remote fields are dropped. A missing end on an all-day event defaults to start
// plus one day.
func FromGoogleEvent(p *GoogleEvent, ownerUserID uuid.UUID) (*entity.CalendarEvent, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("google event has no id")
	}
	if p.Start == nil {
		return nil, fmt.Errorf("google event %s has no start", p.ID)
	}

	ev := &entity.CalendarEvent{
		OwnerUserID: ownerUserID,
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Type:        entity.EventTypeImported,
		Status:      canonicalStatus(p.Status),
	}

	var err error
	ev.StartAt, ev.IsAllDay, err = parseGoogleTime(p.Start)
	if err != nil {
		return nil, fmt.Errorf("google event %s: %w", p.ID, err)
	}

	if p.End != nil && (p.End.DateTime != "" || p.End.Date != "") {
		ev.EndAt, _, err = parseGoogleTime(p.End)
		if err != nil {
			return nil, fmt.Errorf("google event %s: %w", p.ID, err)
		}
	} else if ev.IsAllDay {
		ev.EndAt = ev.StartAt.Add(24 * time.Hour)
	} else {
		ev.EndAt = ev.StartAt
	}

	for _, a := range p.Attendees {
		if a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}

	if p.Reminders != nil {
		var reminders pq.Int64Array
		for _, o := range p.Reminders.Overrides {
			reminders = append(reminders, int64(clampReminder(o.Minutes)))
		}
		ev.Reminders = reminders
	}

	if len(p.Recurrence) > 0 {
		ev.Recurrence = p.Recurrence[0]
	}

	if p.ExtendedProperties != nil {
		if fid, ok := p.ExtendedProperties.Private["formationId"]; ok {
			if parsed, err := uuid.Parse(fid); err == nil {
				ev.FormationID = &parsed
			}
		}
	}

	var updatedAt *time.Time
	if p.Updated != "" {
		if t, err := time.Parse(time.RFC3339, p.Updated); err == nil {
			updatedAt = &t
		}
	}
	ev.SetExternalRef(entity.ProviderGoogle, p.ID, p.Etag, updatedAt)

	return ev, nil
}

func parseGoogleTime(t *GoogleEventTime) (time.Time, bool, error) {
	if t.Date != "" {
		parsed, err := time.Parse(googleDateLayout, t.Date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid all-day date %q: %w", t.Date, err)
		}
		return parsed, true, nil
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid dateTime %q: %w", t.DateTime, err)
	}
	return parsed, false, nil
}

func googleStatus(s entity.EventStatus) string {
	switch s {
	case entity.EventStatusCancelled:
		return "cancelled"
	case entity.EventStatusPending:
		return "tentative"
	default:
		return "confirmed"
	}
}

func canonicalStatus(s string) entity.EventStatus {
	switch s {
	case "cancelled":
		return entity.EventStatusCancelled
	case "tentative":
		return entity.EventStatusPending
	default:
		return entity.EventStatusConfirmed
	}
}

func clampReminder(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > constants.MaxReminderMinutes {
		return constants.MaxReminderMinutes
	}
	return minutes
}
