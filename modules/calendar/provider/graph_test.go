package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lms-calendar-api/core/config"
	"lms-calendar-api/modules/calendar/entity"
)

func graphAdapterFor(t *testing.T, srv *httptest.Server) Adapter {
	t.Helper()
	return NewGraphAdapter(
		config.ProviderAPIConfig{APIBaseURL: srv.URL},
		50,
		staticTokens{token: "test-token"},
		newMemBackoff(),
		srv.Client(),
	)
}

func TestGraphListEventsFollowsNextLink(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/me/calendarview", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("startDateTime") == "" {
			t.Error("startDateTime missing on first page")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "m1", "subject": "First", "start": map[string]string{"dateTime": "2026-09-01T09:00:00.0000000", "timeZone": "UTC"}},
			},
			"@odata.nextLink": srv.URL + "/me/calendarview/page2",
		})
	})
	mux.HandleFunc("/me/calendarview/page2", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "m2", "subject": "Second", "start": map[string]string{"dateTime": "2026-09-02T09:00:00.0000000", "timeZone": "UTC"}},
			},
		})
	})

	adapter := graphAdapterFor(t, srv)
	integration := testIntegration(entity.ProviderOutlook)

	page, err := adapter.ListEvents(context.Background(), integration, testWindow(), "")
	if err != nil {
		t.Fatalf("ListEvents page 1: %v", err)
	}
	if len(page.Events) != 1 || page.NextCursor == "" {
		t.Fatalf("page 1 = %d events, cursor %q", len(page.Events), page.NextCursor)
	}

	// The next link itself is the cursor; no window parameters are rebuilt.
	page, err = adapter.ListEvents(context.Background(), integration, testWindow(), page.NextCursor)
	if err != nil {
		t.Fatalf("ListEvents page 2: %v", err)
	}
	if len(page.Events) != 1 || page.NextCursor != "" {
		t.Fatalf("page 2 = %d events, cursor %q", len(page.Events), page.NextCursor)
	}
	if paths[1] != "/me/calendarview/page2" {
		t.Errorf("second request path = %q", paths[1])
	}
}

func TestGraphCreateAndUpdateVerbs(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "m-created"})
	}))
	defer srv.Close()

	adapter := graphAdapterFor(t, srv)
	integration := testIntegration(entity.ProviderOutlook)
	event := &entity.CalendarEvent{Title: "Session"}

	id, err := adapter.CreateEvent(context.Background(), integration, event)
	if err != nil || id != "m-created" {
		t.Fatalf("CreateEvent = (%q, %v)", id, err)
	}
	if err := adapter.UpdateEvent(context.Background(), integration, "m-created", event); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if err := adapter.DeleteEvent(context.Background(), integration, "m-created"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	want := []string{"POST /me/events", "PATCH /me/events/m-created", "DELETE /me/events/m-created"}
	for i, w := range want {
		if methods[i] != w {
			t.Errorf("call %d = %q, want %q", i, methods[i], w)
		}
	}
}

func TestGraphUnauthorizedSurfacesTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := graphAdapterFor(t, srv)
	_, err := adapter.ListEvents(context.Background(), testIntegration(entity.ProviderOutlook), testWindow(), "")
	if !IsUnauthorized(err) {
		t.Errorf("err = %v, want Unauthorized", err)
	}
}
