package mapper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lms-calendar-api/modules/calendar/entity"
)

// Microsoft-Graph-style wire shapes (provider B).

type GraphDateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type GraphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type GraphLocation struct {
	DisplayName string `json:"displayName"`
}

type GraphEmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type GraphAttendee struct {
	EmailAddress GraphEmailAddress `json:"emailAddress"`
	Type         string            `json:"type,omitempty"`
}

type GraphExtendedProperty struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type GraphEvent struct {
	ID                            string                  `json:"id,omitempty"`
	Subject                       string                  `json:"subject,omitempty"`
	Body                          *GraphItemBody          `json:"body,omitempty"`
	Start                         *GraphDateTimeZone      `json:"start,omitempty"`
	End                           *GraphDateTimeZone      `json:"end,omitempty"`
	IsAllDay                      bool                    `json:"isAllDay,omitempty"`
	Location                      *GraphLocation          `json:"location,omitempty"`
	Attendees                     []GraphAttendee         `json:"attendees,omitempty"`
	IsReminderOn                  bool                    `json:"isReminderOn,omitempty"`
	ReminderMinutesBeforeStart    int                     `json:"reminderMinutesBeforeStart,omitempty"`
	IsCancelled                   bool                    `json:"isCancelled,omitempty"`
	ChangeKey                     string                  `json:"changeKey,omitempty"`
	LastModifiedDateTime          string                  `json:"lastModifiedDateTime,omitempty"`
	TransactionID                 string                  `json:"transactionId,omitempty"`
	SingleValueExtendedProperties []GraphExtendedProperty `json:"singleValueExtendedProperties,omitempty"`
}

const (
	graphDateTimeLayout = "2006-01-02T15:04:05.0000000"
	graphFormationProp  = "String {66f5a359-4659-4830-9070-00047ec6ac6e} Name formationId"
	graphEventTypeProp  = "String {66f5a359-4659-4830-9070-00047ec6ac6e} Name eventType"
)

// ToGraphEvent maps a canonical event onto the Graph-style payload. Only the
// first reminder offset is representable; the rest are dropped. Recurrence is
// not representable in this payload shape and is omitted.
func ToGraphEvent(ev *entity.CalendarEvent) *GraphEvent {
	p := &GraphEvent{
		Subject:       ev.Title,
		IsAllDay:      ev.IsAllDay,
		IsCancelled:   ev.Status == entity.EventStatusCancelled,
		TransactionID: ExportICalUID(ev),
		Start:         graphTime(ev.StartAt, ev.IsAllDay),
		End:           graphTime(ev.EndAt, ev.IsAllDay),
	}

	if ev.Description != "" {
		p.Body = &GraphItemBody{ContentType: "text", Content: ev.Description}
	}
	if ev.Location != "" {
		p.Location = &GraphLocation{DisplayName: ev.Location}
	}

	for _, a := range ev.Attendees {
		p.Attendees = append(p.Attendees, GraphAttendee{
			EmailAddress: GraphEmailAddress{Address: a},
			Type:         "required",
		})
	}

	if len(ev.Reminders) > 0 {
		p.IsReminderOn = true
		p.ReminderMinutesBeforeStart = clampReminder(int(ev.Reminders[0]))
	}

	if ev.FormationID != nil {
		p.SingleValueExtendedProperties = append(p.SingleValueExtendedProperties,
			GraphExtendedProperty{ID: graphFormationProp, Value: ev.FormationID.String()})
	}
	if ev.Type != "" {
		p.SingleValueExtendedProperties = append(p.SingleValueExtendedProperties,
			GraphExtendedProperty{ID: graphEventTypeProp, Value: string(ev.Type)})
	}

	return p
}

// FromGraphEvent maps a Graph-style payload back to a canonical event.
func FromGraphEvent(p *GraphEvent, ownerUserID uuid.UUID) (*entity.CalendarEvent, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("graph event has no id")
	}
	if p.Start == nil {
		return nil, fmt.Errorf("graph event %s has no start", p.ID)
	}

	ev := &entity.CalendarEvent{
		OwnerUserID: ownerUserID,
		Title:       p.Subject,
		IsAllDay:    p.IsAllDay,
		Type:        entity.EventTypeImported,
		Status:      entity.EventStatusConfirmed,
	}
	if p.IsCancelled {
		ev.Status = entity.EventStatusCancelled
	}
	if p.Body != nil {
		ev.Description = p.Body.Content
	}
	if p.Location != nil {
		ev.Location = p.Location.DisplayName
	}

	var err error
	ev.StartAt, err = parseGraphTime(p.Start)
	if err != nil {
		return nil, fmt.Errorf("graph event %s: %w", p.ID, err)
	}

	if p.End != nil && p.End.DateTime != "" {
		ev.EndAt, err = parseGraphTime(p.End)
		if err != nil {
			return nil, fmt.Errorf("graph event %s: %w", p.ID, err)
		}
	} else if ev.IsAllDay {
		ev.EndAt = ev.StartAt.Add(24 * time.Hour)
	} else {
		ev.EndAt = ev.StartAt
	}

	for _, a := range p.Attendees {
		if a.EmailAddress.Address != "" {
			ev.Attendees = append(ev.Attendees, a.EmailAddress.Address)
		}
	}

	if p.IsReminderOn {
		ev.Reminders = pq.Int64Array{int64(clampReminder(p.ReminderMinutesBeforeStart))}
	}

	for _, prop := range p.SingleValueExtendedProperties {
		if prop.ID == graphFormationProp {
			if parsed, err := uuid.Parse(prop.Value); err == nil {
				ev.FormationID = &parsed
			}
		}
	}

	var updatedAt *time.Time
	if p.LastModifiedDateTime != "" {
		if t, err := parseGraphTimestamp(p.LastModifiedDateTime); err == nil {
			updatedAt = &t
		}
	}
	ev.SetExternalRef(entity.ProviderOutlook, p.ID, p.ChangeKey, updatedAt)

	return ev, nil
}

func graphTime(t time.Time, allDay bool) *GraphDateTimeZone {
	if allDay {
		t = t.Truncate(24 * time.Hour)
	}
	return &GraphDateTimeZone{
		DateTime: t.UTC().Format(graphDateTimeLayout),
		TimeZone: "UTC",
	}
}

func parseGraphTime(t *GraphDateTimeZone) (time.Time, error) {
	parsed, err := parseGraphTimestamp(t.DateTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid dateTime %q: %w", t.DateTime, err)
	}
	if t.TimeZone != "" && t.TimeZone != "UTC" {
		if loc, locErr := time.LoadLocation(t.TimeZone); locErr == nil {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), parsed.Nanosecond(), loc).UTC()
		}
	}
	return parsed, nil
}

func parseGraphTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{graphDateTimeLayout, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
