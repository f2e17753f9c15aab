package mapper

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lms-calendar-api/modules/calendar/entity"
)

func TestToGraphEventBasicMapping(t *testing.T) {
	ev := baseEvent()
	p := ToGraphEvent(ev)

	if p.Subject != "Go Fundamentals" {
		t.Errorf("subject = %q", p.Subject)
	}
	if p.Body == nil || p.Body.Content != "Week 3 session" {
		t.Errorf("body = %+v", p.Body)
	}
	if p.Start.DateTime != "2026-09-01T09:00:00.0000000" || p.Start.TimeZone != "UTC" {
		t.Errorf("start = %+v", p.Start)
	}
	if len(p.Attendees) != 2 || p.Attendees[1].EmailAddress.Address != "b@example.com" {
		t.Errorf("attendees = %+v", p.Attendees)
	}
	if p.TransactionID == "" {
		t.Error("transactionId not set")
	}
}

func TestToGraphEventKeepsFirstReminderOnly(t *testing.T) {
	ev := baseEvent()
	ev.Reminders = pq.Int64Array{15, 30, 60}
	p := ToGraphEvent(ev)

	if !p.IsReminderOn || p.ReminderMinutesBeforeStart != 15 {
		t.Errorf("reminder = (%v, %d), want (true, 15)", p.IsReminderOn, p.ReminderMinutesBeforeStart)
	}
}

func TestToGraphEventFormationProperty(t *testing.T) {
	ev := baseEvent()
	fid := uuid.New()
	ev.FormationID = &fid
	p := ToGraphEvent(ev)

	found := false
	for _, prop := range p.SingleValueExtendedProperties {
		if prop.ID == graphFormationProp && prop.Value == fid.String() {
			found = true
		}
	}
	if !found {
		t.Errorf("formation property missing: %+v", p.SingleValueExtendedProperties)
	}
}

func TestFromGraphEventRoundTrip(t *testing.T) {
	owner := uuid.New()
	src := baseEvent()
	payload := ToGraphEvent(src)
	payload.ID = "AAMk-remote-1"
	payload.ChangeKey = "CQAAAB"
	payload.LastModifiedDateTime = "2026-09-01T08:30:00.0000000"

	got, err := FromGraphEvent(payload, owner)
	if err != nil {
		t.Fatalf("FromGraphEvent: %v", err)
	}

	if got.Title != src.Title || !got.StartAt.Equal(src.StartAt) || !got.EndAt.Equal(src.EndAt) {
		t.Errorf("core fields lost: got %+v", got)
	}
	if !got.HasExternalRef(entity.ProviderOutlook) || *got.ExternalEventID != "AAMk-remote-1" {
		t.Errorf("external ref not set: %+v", got)
	}
	if got.ExternalEtag == nil || *got.ExternalEtag != "CQAAAB" {
		t.Errorf("etag = %v", got.ExternalEtag)
	}
	if got.ExternalUpdatedAt == nil {
		t.Error("external updated at not parsed")
	}
}

func TestFromGraphEventCancelled(t *testing.T) {
	p := &GraphEvent{
		ID:          "AAMk-remote-2",
		Subject:     "Cancelled session",
		IsCancelled: true,
		Start:       &GraphDateTimeZone{DateTime: "2026-09-02T10:00:00.0000000", TimeZone: "UTC"},
	}

	got, err := FromGraphEvent(p, uuid.New())
	if err != nil {
		t.Fatalf("FromGraphEvent: %v", err)
	}
	if got.Status != entity.EventStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
}

func TestParseGraphTimestampLayouts(t *testing.T) {
	want := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	for _, input := range []string{
		"2026-09-01T09:00:00.0000000",
		"2026-09-01T09:00:00Z",
	} {
		got, err := parseGraphTimestamp(input)
		if err != nil {
			t.Fatalf("parseGraphTimestamp(%q): %v", input, err)
		}
		if !got.Equal(want) {
			t.Errorf("parseGraphTimestamp(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := parseGraphTimestamp("yesterday"); err == nil {
		t.Error("expected error for unrecognized timestamp")
	}
}

func TestFromGraphEventRejectsIncomplete(t *testing.T) {
	if _, err := FromGraphEvent(&GraphEvent{Subject: "no id"}, uuid.New()); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := FromGraphEvent(&GraphEvent{ID: "x"}, uuid.New()); err == nil {
		t.Error("expected error for missing start")
	}
}
