package router

import (
	"lms-calendar-api/core/middleware"
	"lms-calendar-api/modules/calendar/controller"

	"github.com/labstack/echo/v4"
)

type CalendarRouter struct {
	calendarController *controller.CalendarController
	eventController    *controller.EventController
}

func NewCalendarRouter(calendarController *controller.CalendarController, eventController *controller.EventController) *CalendarRouter {
	return &CalendarRouter{
		calendarController: calendarController,
		eventController:    eventController,
	}
}

func (r *CalendarRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	// Private routes (require authentication)
	calendarRoutes := v1.Group("/private/calendar")
	calendarRoutes.Use(mw.AuthMiddleware())

	// Integrations and OAuth flow
	calendarRoutes.GET("/integrations", r.calendarController.GetIntegrations)
	calendarRoutes.GET("/:provider/auth-url", r.calendarController.GetAuthURL)
	calendarRoutes.POST("/:provider/callback", r.calendarController.Callback)
	calendarRoutes.PUT("/integrations/:provider/settings", r.calendarController.UpdateSettings)
	calendarRoutes.DELETE("/integrations/:provider", r.calendarController.Disconnect)

	// Synchronization
	calendarRoutes.POST("/:provider/import", r.calendarController.Import)
	calendarRoutes.POST("/:provider/sync", r.calendarController.Sync)
	calendarRoutes.POST("/:provider/export-formation", r.calendarController.ExportFormation)
	calendarRoutes.POST("/sync-formations", r.eventController.SyncFormations)

	// Events
	calendarRoutes.GET("/events", r.eventController.ListEvents)
	calendarRoutes.GET("/events/range", r.eventController.ListEventsRange)
	calendarRoutes.GET("/upcoming", r.eventController.ListUpcoming)
	calendarRoutes.POST("/events", r.eventController.CreateEvent)
	calendarRoutes.PUT("/events/:id", r.eventController.UpdateEvent)
	calendarRoutes.DELETE("/events/:id", r.eventController.DeleteEvent)
}
