package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/config"
	"lms-calendar-api/core/errors"
	"lms-calendar-api/modules/calendar/entity"
)

func authFixture(t *testing.T, srv *httptest.Server) (AuthorizationService, *fakeIntegrationRepo, *fakeCache) {
	t.Helper()

	cfg := &config.Config{
		GoogleAPI: config.ProviderAPIConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "https://app.example.com/callback",
			AuthURL:      srv.URL + "/auth",
			TokenURL:     srv.URL + "/token",
			UserInfoURL:  srv.URL + "/userinfo",
			RevokeURL:    srv.URL + "/revoke",
			Scopes:       []string{"calendar.events"},
		},
		Crypto: config.CryptoConfig{
			TokenEncryptionKey: "test-encryption-key",
			StateSigningKey:    "test-signing-key",
		},
	}

	repo := newFakeIntegrationRepo()
	c := newFakeCache()
	return NewAuthorizationService(repo, c, cfg), repo, c
}

func TestBuildAuthURLSignsStateAndStoresNonce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc, _, c := authFixture(t, srv)
	userID := uuid.New()

	authURL, appErr := svc.BuildAuthURL(context.Background(), userID, entity.ProviderGoogle)
	if appErr != nil {
		t.Fatalf("BuildAuthURL: %v", appErr)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("auth URL unparseable: %v", err)
	}
	if parsed.Query().Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", parsed.Query().Get("client_id"))
	}

	state, err := decodeOAuthState(parsed.Query().Get("state"), []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("state not decodable: %v", err)
	}
	if state.UserID != userID || state.Provider != entity.ProviderGoogle {
		t.Errorf("state = %+v", state)
	}
	if !c.nonces[state.Nonce] {
		t.Error("nonce not stored for one-time use")
	}
}

func TestBuildAuthURLUnconfiguredProvider(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc, _, _ := authFixture(t, srv)
	if _, appErr := svc.BuildAuthURL(context.Background(), uuid.New(), entity.ProviderOutlook); appErr == nil {
		t.Fatal("expected error for unconfigured provider")
	}
}

func TestCompleteAuthorizationConnectsIntegration(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("code"); got != "auth-code-1" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"email": "teacher@example.com", "name": "Teacher One"})
	})

	svc, repo, _ := authFixture(t, srv)
	userID := uuid.New()
	ctx := context.Background()

	authURL, _ := svc.BuildAuthURL(ctx, userID, entity.ProviderGoogle)
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	integration, appErr := svc.CompleteAuthorization(ctx, userID, entity.ProviderGoogle, "auth-code-1", state)
	if appErr != nil {
		t.Fatalf("CompleteAuthorization: %v", appErr)
	}
	if !integration.IsConnected || integration.ExternalAccountEmail != "teacher@example.com" {
		t.Errorf("integration = %+v", integration)
	}

	stored, _ := repo.GetByUserAndProvider(ctx, userID, entity.ProviderGoogle)
	if stored == nil || stored.RefreshToken != "rt-1" {
		t.Errorf("stored integration = %+v", stored)
	}

	// The state is one-time use.
	if _, appErr := svc.CompleteAuthorization(ctx, userID, entity.ProviderGoogle, "auth-code-1", state); appErr == nil {
		t.Fatal("expected replayed state to be rejected")
	}
}

func TestCompleteAuthorizationRejectsForeignState(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc, _, _ := authFixture(t, srv)
	_, appErr := svc.CompleteAuthorization(context.Background(), uuid.New(), entity.ProviderGoogle, "code", "not-a-state")
	if appErr == nil || appErr.Code != errors.ErrAuthorizationState {
		t.Errorf("appErr = %v, want %s", appErr, errors.ErrAuthorizationState)
	}
}

func TestCompleteAuthorizationRejectsStateForAnotherUser(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc, repo, _ := authFixture(t, srv)
	ctx := context.Background()
	stateOwner := uuid.New()

	authURL, _ := svc.BuildAuthURL(ctx, stateOwner, entity.ProviderGoogle)
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	// A different authenticated user presents the state.
	_, appErr := svc.CompleteAuthorization(ctx, uuid.New(), entity.ProviderGoogle, "auth-code-1", state)
	if appErr == nil || appErr.Code != errors.ErrAuthorizationState {
		t.Errorf("appErr = %v, want %s", appErr, errors.ErrAuthorizationState)
	}

	// Nothing was attached to the state owner's account either.
	if stored, _ := repo.GetByUserAndProvider(ctx, stateOwner, entity.ProviderGoogle); stored != nil {
		t.Errorf("integration upserted for state owner: %+v", stored)
	}
}

func TestEnsureFreshTokenSkipsRefreshWhenFresh(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
	})

	svc, repo, _ := authFixture(t, srv)
	integration, _ := repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         uuid.New(),
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at",
		RefreshToken:   "rt",
		TokenExpiresAt: time.Now().Add(time.Hour),
		IsConnected:    true,
	})

	got, err := svc.EnsureFreshToken(context.Background(), integration)
	if err != nil {
		t.Fatalf("EnsureFreshToken: %v", err)
	}
	if got.AccessToken != "at" || tokenCalls.Load() != 0 {
		t.Errorf("fresh token triggered a refresh (calls=%d)", tokenCalls.Load())
	}
}

func TestConcurrentRefreshPerformsOneExchange(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the flight open so callers pile up
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-new",
			"refresh_token": "rt-new",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	svc, repo, _ := authFixture(t, srv)
	integration, _ := repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         uuid.New(),
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at-old",
		RefreshToken:   "rt-old",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		IsConnected:    true,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *integration
			fresh, err := svc.EnsureFreshToken(context.Background(), &cp)
			if err != nil {
				t.Errorf("EnsureFreshToken: %v", err)
				return
			}
			if fresh.AccessToken != "at-new" {
				t.Errorf("access token = %q, want at-new", fresh.AccessToken)
			}
		}()
	}
	wg.Wait()

	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want exactly 1", got)
	}

	stored, _ := repo.GetByID(context.Background(), integration.ID)
	if stored.RefreshToken != "rt-new" {
		t.Errorf("rotated refresh token not persisted: %q", stored.RefreshToken)
	}
}

func TestRefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	svc, repo, _ := authFixture(t, srv)
	integration, _ := repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         uuid.New(),
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at-old",
		RefreshToken:   "rt-keep",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		IsConnected:    true,
	})

	if _, err := svc.EnsureFreshToken(context.Background(), integration); err != nil {
		t.Fatalf("EnsureFreshToken: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), integration.ID)
	if stored.RefreshToken != "rt-keep" {
		t.Errorf("refresh token = %q, want rt-keep preserved", stored.RefreshToken)
	}
}

func TestRefreshRevokedGrantDisconnects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	})

	svc, repo, _ := authFixture(t, srv)
	integration, _ := repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         uuid.New(),
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at-old",
		RefreshToken:   "rt-revoked",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		IsConnected:    true,
	})

	_, err := svc.EnsureFreshToken(context.Background(), integration)
	if errors.CodeOf(err) != errors.ErrNotConnected {
		t.Fatalf("err = %v, want %s", err, errors.ErrNotConnected)
	}

	stored, _ := repo.GetByID(context.Background(), integration.ID)
	if stored.IsConnected || stored.RefreshToken != "" {
		t.Errorf("integration not tombstoned: %+v", stored)
	}
}

func TestAccessTokenFailsFastWhenDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	svc, _, _ := authFixture(t, srv)
	integration := &entity.CalendarIntegration{
		UserID:      uuid.New(),
		Provider:    entity.ProviderGoogle,
		IsConnected: false,
	}
	integration.ID = uuid.New()

	if _, err := svc.AccessToken(context.Background(), integration); errors.CodeOf(err) != errors.ErrNotConnected {
		t.Errorf("err = %v, want %s", err, errors.ErrNotConnected)
	}
}

func TestDisconnectRevokesAndTombstones(t *testing.T) {
	var revokeCalls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		revokeCalls.Add(1)
		if got := r.FormValue("token"); got != "at-1" {
			t.Errorf("revoked token = %q", got)
		}
	})

	svc, repo, _ := authFixture(t, srv)
	userID := uuid.New()
	repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         userID,
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
		IsConnected:    true,
		SyncEnabled:    true,
	})

	if appErr := svc.Disconnect(context.Background(), userID, entity.ProviderGoogle); appErr != nil {
		t.Fatalf("Disconnect: %v", appErr)
	}
	if revokeCalls.Load() != 1 {
		t.Errorf("revoke calls = %d, want 1", revokeCalls.Load())
	}

	stored, _ := repo.GetByUserAndProvider(context.Background(), userID, entity.ProviderGoogle)
	if stored.IsConnected || stored.SyncEnabled || stored.AccessToken != "" || stored.RefreshToken != "" {
		t.Errorf("integration not tombstoned: %+v", stored)
	}
}

func TestDisconnectSucceedsWhenRevokeFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	svc, repo, _ := authFixture(t, srv)
	userID := uuid.New()
	repo.Upsert(context.Background(), &entity.CalendarIntegration{
		UserID:         userID,
		Provider:       entity.ProviderGoogle,
		AccessToken:    "at-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
		IsConnected:    true,
	})

	if appErr := svc.Disconnect(context.Background(), userID, entity.ProviderGoogle); appErr != nil {
		t.Fatalf("Disconnect should succeed despite revoke failure: %v", appErr)
	}

	stored, _ := repo.GetByUserAndProvider(context.Background(), userID, entity.ProviderGoogle)
	if stored.IsConnected {
		t.Error("integration still connected after disconnect")
	}
}
