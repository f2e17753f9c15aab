package controller

import (
	"lms-calendar-api/core/controller"
	"lms-calendar-api/core/errors"
	"lms-calendar-api/core/middleware"
	"lms-calendar-api/modules/calendar/dto"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type CalendarController struct {
	controller.BaseController
	authService service.AuthorizationService
	syncService service.SyncService
}

func NewCalendarController(authService service.AuthorizationService, syncService service.SyncService) *CalendarController {
	return &CalendarController{
		BaseController: controller.NewBaseController(),
		authService:    authService,
		syncService:    syncService,
	}
}

func providerFromParam(ctx echo.Context) (entity.Provider, bool) {
	return entity.ParseProvider(ctx.Param("provider"))
}

// GetIntegrations returns the calendar integrations of the current user
// GET /calendar/integrations
func (cc *CalendarController) GetIntegrations(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	integrations, appErr := cc.authService.ListIntegrations(ctx.Request().Context(), userID)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, dto.ToIntegrationListResponse(integrations), "integrations retrieved")
}

// GetAuthURL returns the provider consent URL for the connect flow
// GET /calendar/:provider/auth-url
func (cc *CalendarController) GetAuthURL(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	authURL, appErr := cc.authService.BuildAuthURL(ctx.Request().Context(), userID, provider)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, dto.AuthURLResponse{AuthURL: authURL}, "authorization URL generated")
}

// Callback completes the OAuth flow with the code and signed state
// POST /calendar/:provider/callback
func (cc *CalendarController) Callback(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	var req dto.CallbackRequest
	if err := ctx.Bind(&req); err != nil {
		return cc.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}
	if req.Code == "" || req.State == "" {
		return cc.BadRequest(errors.ErrInvalidInput, "code and state are required")
	}

	integration, appErr := cc.authService.CompleteAuthorization(ctx.Request().Context(), userID, provider, req.Code, req.State)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, dto.ToIntegrationResponse(integration), "calendar connected")
}

// UpdateSettings toggles the sync flags of an integration
// PUT /calendar/integrations/:provider/settings
func (cc *CalendarController) UpdateSettings(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	var req dto.SettingsRequest
	if err := ctx.Bind(&req); err != nil {
		return cc.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}

	integration, appErr := cc.authService.UpdateSettings(ctx.Request().Context(), userID, provider,
		req.SyncEnabled, req.ImportEnabled, req.ExportEnabled)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, dto.ToIntegrationResponse(integration), "settings updated")
}

// Disconnect revokes and removes a provider integration
// DELETE /calendar/integrations/:provider
func (cc *CalendarController) Disconnect(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	if appErr := cc.authService.Disconnect(ctx.Request().Context(), userID, provider); appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, nil, "calendar disconnected")
}

// Import pulls the provider's events into the canonical calendar
// POST /calendar/:provider/import
func (cc *CalendarController) Import(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	resp, appErr := cc.syncService.ImportEvents(ctx.Request().Context(), userID, provider)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, resp, "import completed")
}

// Sync runs a two-way synchronization with the provider
// POST /calendar/:provider/sync
func (cc *CalendarController) Sync(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	resp, appErr := cc.syncService.TwoWaySync(ctx.Request().Context(), userID, provider)
	if appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, resp, "sync completed")
}

// ExportFormation pushes a formation event to the provider
// POST /calendar/:provider/export-formation
func (cc *CalendarController) ExportFormation(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return cc.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	provider, ok := providerFromParam(ctx)
	if !ok {
		return cc.BadRequest(errors.ErrInvalidInput, "unknown provider")
	}

	var req dto.ExportFormationRequest
	if err := ctx.Bind(&req); err != nil {
		return cc.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}
	formationID, err := uuid.Parse(req.FormationID)
	if err != nil {
		return cc.BadRequest(errors.ErrInvalidInput, "formation_id must be a UUID")
	}

	if appErr := cc.syncService.ExportFormation(ctx.Request().Context(), userID, provider, formationID); appErr != nil {
		return cc.ErrorResponse(ctx, appErr)
	}
	return cc.SuccessResponse(ctx, nil, "formation exported")
}
