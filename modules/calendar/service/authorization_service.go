package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"lms-calendar-api/core/cache"
	"lms-calendar-api/core/config"
	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/errors"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/repository"
)

// AuthorizationService owns the OAuth lifecycle: consent URLs, code exchange,
// token refresh and disconnect. It also serves as the adapters' token source.
type AuthorizationService interface {
	BuildAuthURL(ctx context.Context, userID uuid.UUID, provider entity.Provider) (string, *errors.AppError)
	CompleteAuthorization(ctx context.Context, userID uuid.UUID, provider entity.Provider, code, state string) (*entity.CalendarIntegration, *errors.AppError)
	EnsureFreshToken(ctx context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error)
	AccessToken(ctx context.Context, integration *entity.CalendarIntegration) (string, error)
	Disconnect(ctx context.Context, userID uuid.UUID, provider entity.Provider) *errors.AppError
	ListIntegrations(ctx context.Context, userID uuid.UUID) ([]entity.CalendarIntegration, *errors.AppError)
	UpdateSettings(ctx context.Context, userID uuid.UUID, provider entity.Provider, syncEnabled, importEnabled, exportEnabled bool) (*entity.CalendarIntegration, *errors.AppError)
}

type authorizationService struct {
	repo       repository.IntegrationRepository
	cache      cache.Cache
	providers  map[entity.Provider]config.ProviderAPIConfig
	signingKey []byte
	refreshSF  singleflight.Group
	httpClient *http.Client
}

func NewAuthorizationService(repo repository.IntegrationRepository, c cache.Cache, cfg *config.Config) AuthorizationService {
	return &authorizationService{
		repo:  repo,
		cache: c,
		providers: map[entity.Provider]config.ProviderAPIConfig{
			entity.ProviderGoogle:  cfg.GoogleAPI,
			entity.ProviderOutlook: cfg.OutlookAPI,
		},
		signingKey: []byte(cfg.Crypto.StateSigningKey),
		httpClient: &http.Client{Timeout: constants.ProviderCallTimeout},
	}
}

func (s *authorizationService) oauthConfig(provider entity.Provider) (*oauth2.Config, bool) {
	pc, ok := s.providers[provider]
	if !ok || pc.ClientID == "" {
		return nil, false
	}
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  pc.RedirectURI,
		Scopes:       pc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
	}, true
}

// BuildAuthURL constructs the provider consent URL with a signed state bound to
// (userID, provider). No network call is made.
func (s *authorizationService) BuildAuthURL(ctx context.Context, userID uuid.UUID, provider entity.Provider) (string, *errors.AppError) {
	oc, ok := s.oauthConfig(provider)
	if !ok {
		return "", errors.NewAppError(errors.ErrInvalidInput, "provider not configured: "+string(provider), nil)
	}

	state := newOAuthState(userID, provider)
	if err := s.cache.SaveOAuthNonce(ctx, state.Nonce, constants.OAuthStateTTL); err != nil {
		logger.Error("AuthorizationService:BuildAuthURL:SaveNonce:Error", "error", err, "user_id", userID)
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to persist authorization state", err)
	}

	return oc.AuthCodeURL(state.encode(s.signingKey), oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// CompleteAuthorization validates and consumes the state, exchanges the code
// for tokens, fetches the external account identity and upserts the
// integration row for (userID, provider). The state must have been issued for
// the calling user and provider.
func (s *authorizationService) CompleteAuthorization(ctx context.Context, userID uuid.UUID, provider entity.Provider, code, state string) (*entity.CalendarIntegration, *errors.AppError) {
	oc, ok := s.oauthConfig(provider)
	if !ok {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "provider not configured: "+string(provider), nil)
	}

	parsed, err := decodeOAuthState(state, s.signingKey)
	if err != nil {
		logger.Error("AuthorizationService:CompleteAuthorization:State:Error", "error", err, "provider", provider)
		return nil, errors.NewAppError(errors.ErrAuthorizationState, "authorization state is invalid or expired, please restart the connect flow", err)
	}
	if parsed.Provider != provider {
		return nil, errors.NewAppError(errors.ErrAuthorizationState, "authorization state was issued for another provider", nil)
	}
	if parsed.UserID != userID {
		return nil, errors.NewAppError(errors.ErrAuthorizationState, "authorization state was issued for another user", nil)
	}

	consumed, err := s.cache.ConsumeOAuthNonce(ctx, parsed.Nonce)
	if err != nil {
		logger.Error("AuthorizationService:CompleteAuthorization:ConsumeNonce:Error", "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to verify authorization state", err)
	}
	if !consumed {
		return nil, errors.NewAppError(errors.ErrAuthorizationState, "authorization state was already used or expired, please restart the connect flow", nil)
	}

	token, err := oc.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		logger.Error("AuthorizationService:CompleteAuthorization:Exchange:Error", "error", err, "provider", provider)
		return nil, errors.NewAppError(errors.ErrProviderRejected, "provider rejected the authorization code, please restart the connect flow", err)
	}

	email, name, err := s.fetchAccountIdentity(ctx, provider, token.AccessToken)
	if err != nil {
		logger.Error("AuthorizationService:CompleteAuthorization:Identity:Error", "error", err, "provider", provider)
		return nil, errors.NewAppError(errors.ErrProviderUnavailable, "failed to fetch account identity from provider", err)
	}

	integration := &entity.CalendarIntegration{
		UserID:               parsed.UserID,
		Provider:             provider,
		ExternalAccountEmail: email,
		ExternalAccountName:  name,
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		TokenExpiresAt:       token.Expiry,
		IsConnected:          true,
		SyncEnabled:          true,
		ImportEnabled:        true,
		ExportEnabled:        true,
	}

	saved, err := s.repo.Upsert(ctx, integration)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to persist calendar integration", err)
	}

	logger.Info("AuthorizationService:CompleteAuthorization:Connected",
		"user_id", parsed.UserID, "provider", provider, "email", email)
	return saved, nil
}

// EnsureFreshToken refreshes the access token when it is inside the expiry
// margin. Concurrent callers for the same integration share one refresh call:
// providers rotate refresh tokens, so a duplicate exchange would invalidate
// the token the first caller just received.
func (s *authorizationService) EnsureFreshToken(ctx context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error) {
	if !integration.IsConnected {
		return nil, errors.NewAppError(errors.ErrNotConnected, "calendar integration is not connected", nil)
	}
	if integration.TokenFresh(constants.TokenRefreshMargin) {
		return integration, nil
	}

	result, err, _ := s.refreshSF.Do(integration.ID.String(), func() (any, error) {
		// Re-read: another flight may have refreshed between our check and now.
		current, err := s.repo.GetByID(ctx, integration.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || !current.IsConnected {
			return nil, errors.NewAppError(errors.ErrNotConnected, "calendar integration is not connected", nil)
		}
		if current.TokenFresh(constants.TokenRefreshMargin) {
			return current, nil
		}
		return s.refreshToken(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return result.(*entity.CalendarIntegration), nil
}

func (s *authorizationService) refreshToken(ctx context.Context, integration *entity.CalendarIntegration) (*entity.CalendarIntegration, error) {
	oc, ok := s.oauthConfig(integration.Provider)
	if !ok {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "provider not configured: "+string(integration.Provider), nil)
	}
	if integration.RefreshToken == "" {
		return nil, s.forceDisconnect(ctx, integration, "no refresh token available")
	}

	logger.Info("AuthorizationService:RefreshToken", "integration_id", integration.ID, "provider", integration.Provider)

	source := oc.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: integration.RefreshToken})
	token, err := source.Token()
	if err != nil {
		if retrieveErr, ok := err.(*oauth2.RetrieveError); ok &&
			(retrieveErr.Response == nil || retrieveErr.Response.StatusCode < 500) {
			// invalid_grant and friends: the provider revoked us.
			return nil, s.forceDisconnect(ctx, integration, "refresh token rejected by provider")
		}
		logger.Error("AuthorizationService:RefreshToken:Error", "error", err, "integration_id", integration.ID)
		return nil, errors.NewAppError(errors.ErrProviderUnavailable, "failed to refresh provider token", err)
	}

	integration.AccessToken = token.AccessToken
	integration.TokenExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		integration.RefreshToken = token.RefreshToken
	}

	if err := s.repo.UpdateTokens(ctx, integration.ID, integration.AccessToken, integration.RefreshToken, integration.TokenExpiresAt); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to persist refreshed token", err)
	}
	return integration, nil
}

func (s *authorizationService) forceDisconnect(ctx context.Context, integration *entity.CalendarIntegration, reason string) error {
	logger.Warn("AuthorizationService:ForceDisconnect",
		"integration_id", integration.ID, "provider", integration.Provider, "reason", reason)
	if err := s.repo.Tombstone(ctx, integration.UserID, integration.Provider); err != nil {
		logger.Error("AuthorizationService:ForceDisconnect:Tombstone:Error", "error", err, "integration_id", integration.ID)
	}
	return errors.NewAppError(errors.ErrNotConnected, "calendar connection was revoked by the provider, please reconnect", nil)
}

// AccessToken implements provider.TokenSource.
func (s *authorizationService) AccessToken(ctx context.Context, integration *entity.CalendarIntegration) (string, error) {
	fresh, err := s.EnsureFreshToken(ctx, integration)
	if err != nil {
		return "", err
	}
	// Propagate the refreshed fields so the caller's copy stays usable.
	*integration = *fresh
	return fresh.AccessToken, nil
}

// Disconnect revokes tokens best-effort and tombstones the integration. Local
// state is cleared whether or not the remote revocation succeeds.
func (s *authorizationService) Disconnect(ctx context.Context, userID uuid.UUID, provider entity.Provider) *errors.AppError {
	integration, err := s.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load integration", err)
	}
	if integration == nil {
		return errors.NewAppError(errors.ErrNotFound, "no integration for provider "+string(provider), nil)
	}

	if pc := s.providers[provider]; pc.RevokeURL != "" && integration.AccessToken != "" {
		s.revokeToken(ctx, pc.RevokeURL, integration.AccessToken)
	}

	if err := s.repo.Tombstone(ctx, userID, provider); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to disconnect integration", err)
	}

	logger.Info("AuthorizationService:Disconnect", "user_id", userID, "provider", provider)
	return nil
}

func (s *authorizationService) ListIntegrations(ctx context.Context, userID uuid.UUID) ([]entity.CalendarIntegration, *errors.AppError) {
	integrations, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list integrations", err)
	}
	return integrations, nil
}

func (s *authorizationService) UpdateSettings(ctx context.Context, userID uuid.UUID, provider entity.Provider, syncEnabled, importEnabled, exportEnabled bool) (*entity.CalendarIntegration, *errors.AppError) {
	integration, err := s.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load integration", err)
	}
	if integration == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "no integration for provider "+string(provider), nil)
	}
	if !integration.IsConnected {
		return nil, errors.NewAppError(errors.ErrNotConnected, "calendar integration is not connected", nil)
	}

	if err := s.repo.UpdateSettings(ctx, integration.ID, syncEnabled, importEnabled, exportEnabled); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update settings", err)
	}
	integration.SyncEnabled = syncEnabled
	integration.ImportEnabled = importEnabled
	integration.ExportEnabled = exportEnabled
	return integration, nil
}

func (s *authorizationService) revokeToken(ctx context.Context, revokeURL, accessToken string) {
	form := url.Values{}
	form.Set("token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Warn("AuthorizationService:RevokeToken:Error", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Warn("AuthorizationService:RevokeToken:Rejected", "status", resp.StatusCode)
	}
}

func (s *authorizationService) fetchAccountIdentity(ctx context.Context, provider entity.Provider, accessToken string) (email, name string, err error) {
	pc := s.providers[provider]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.UserInfoURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var info struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", err
	}

	email = info.Email
	if email == "" {
		email = info.Mail
	}
	if email == "" {
		email = info.UserPrincipalName
	}
	name = info.Name
	if name == "" {
		name = info.DisplayName
	}
	return email, name, nil
}

// oauthContext routes the oauth2 package's internal HTTP calls through our
// client so endpoints stay overridable.
func (s *authorizationService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}
