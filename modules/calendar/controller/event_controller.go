package controller

import (
	"strconv"
	"time"

	"lms-calendar-api/core/controller"
	coreentity "lms-calendar-api/core/entity"
	"lms-calendar-api/core/errors"
	"lms-calendar-api/core/middleware"
	"lms-calendar-api/core/params"
	"lms-calendar-api/modules/calendar/dto"
	"lms-calendar-api/modules/calendar/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type EventController struct {
	controller.BaseController
	eventService service.EventService
}

func NewEventController(eventService service.EventService) *EventController {
	return &EventController{
		BaseController: controller.NewBaseController(),
		eventService:   eventService,
	}
}

// ListEvents returns events overlapping a date window
// GET /calendar/events?start_date=...&end_date=...&type=...
func (ec *EventController) ListEvents(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	start, end, appErr := parseWindowParams(ctx, "start_date", "end_date")
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}

	events, appErr := ec.eventService.ListByWindow(ctx.Request().Context(), userID, start, end, ctx.QueryParam("type"))
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, paginateEvents(events, params.FromContext(ctx)), "events retrieved")
}

// ListEventsRange returns events between two instants
// GET /calendar/events/range?start=...&end=...
func (ec *EventController) ListEventsRange(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	start, end, appErr := parseWindowParams(ctx, "start", "end")
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}

	events, appErr := ec.eventService.ListByWindow(ctx.Request().Context(), userID, start, end, ctx.QueryParam("type"))
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, events, "events retrieved")
}

// ListUpcoming returns the next events from now
// GET /calendar/upcoming?limit=...
func (ec *EventController) ListUpcoming(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	limit := 10
	if n, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	events, appErr := ec.eventService.ListUpcoming(ctx.Request().Context(), userID, limit)
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, events, "upcoming events retrieved")
}

// CreateEvent creates a canonical event
// POST /calendar/events
func (ec *EventController) CreateEvent(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	var req dto.CreateEventRequest
	if err := ctx.Bind(&req); err != nil {
		return ec.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}
	if req.Title == "" || req.StartAt == "" || req.EndAt == "" {
		return ec.BadRequest(errors.ErrInvalidInput, "title, start_at and end_at are required")
	}

	event, appErr := ec.eventService.Create(ctx.Request().Context(), userID, &req)
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.CreatedResponse(ctx, event, "event created")
}

// UpdateEvent applies a partial update to an event
// PUT /calendar/events/:id
func (ec *EventController) UpdateEvent(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ec.BadRequest(errors.ErrInvalidInput, "event id must be a UUID")
	}

	var req dto.UpdateEventRequest
	if err := ctx.Bind(&req); err != nil {
		return ec.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}

	event, appErr := ec.eventService.Update(ctx.Request().Context(), userID, id, &req)
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, event, "event updated")
}

// DeleteEvent removes an event locally and clears its remote copies
// DELETE /calendar/events/:id
func (ec *EventController) DeleteEvent(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ec.BadRequest(errors.ErrInvalidInput, "event id must be a UUID")
	}

	if appErr := ec.eventService.Delete(ctx.Request().Context(), userID, id); appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, nil, "event deleted")
}

// SyncFormations exports a formation's event to every connected provider
// POST /calendar/sync-formations
func (ec *EventController) SyncFormations(ctx echo.Context) error {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return ec.Unauthorized(errors.ErrUnauthorized, "invalid user")
	}

	var req dto.ExportFormationRequest
	if err := ctx.Bind(&req); err != nil {
		return ec.BadRequest(errors.ErrInvalidRequestData, "invalid request body")
	}
	formationID, err := uuid.Parse(req.FormationID)
	if err != nil {
		return ec.BadRequest(errors.ErrInvalidInput, "formation_id must be a UUID")
	}

	resp, appErr := ec.eventService.SyncFormation(ctx.Request().Context(), userID, formationID)
	if appErr != nil {
		return ec.ErrorResponse(ctx, appErr)
	}
	return ec.SuccessResponse(ctx, resp, "formation synced")
}

func parseWindowParams(ctx echo.Context, startKey, endKey string) (time.Time, time.Time, *errors.AppError) {
	startStr := ctx.QueryParam(startKey)
	endStr := ctx.QueryParam(endKey)
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, startKey+" and "+endKey+" are required", nil)
	}

	start, err := parseDateOrTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "invalid "+startKey, err)
	}
	end, err := parseDateOrTime(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput, "invalid "+endKey, err)
	}
	return start, end, nil
}

func paginateEvents(events []*dto.EventResponse, p params.QueryParams) coreentity.Pagination[*dto.EventResponse] {
	total := len(events)
	totalPages := (total + p.PageSize - 1) / p.PageSize

	start := (p.PageNumber - 1) * p.PageSize
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}

	return coreentity.Pagination[*dto.EventResponse]{
		Items:      events[start:end],
		TotalItems: total,
		TotalPages: totalPages,
		PageNumber: p.PageNumber,
		PageSize:   p.PageSize,
	}
}

// parseDateOrTime accepts either an RFC3339 instant or a bare date. A bare
// date covers the whole day in UTC when used as a window end.
func parseDateOrTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
