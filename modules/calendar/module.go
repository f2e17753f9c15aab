package calendar

import (
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"lms-calendar-api/core/cache"
	"lms-calendar-api/core/config"
	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/database"
	"lms-calendar-api/core/middleware"
	"lms-calendar-api/core/utils"
	"lms-calendar-api/modules/calendar/controller"
	"lms-calendar-api/modules/calendar/entity"
	"lms-calendar-api/modules/calendar/provider"
	"lms-calendar-api/modules/calendar/repository"
	"lms-calendar-api/modules/calendar/router"
	"lms-calendar-api/modules/calendar/service"
	"lms-calendar-api/modules/calendar/worker"
)

// Init wires the calendar module and returns the background worker so the
// server can manage its lifecycle.
func Init(e *echo.Echo, db database.Database, c cache.Cache, cfg *config.Config) (*worker.Worker, error) {
	cipher, err := utils.NewTokenCipher(cfg.Crypto.TokenEncryptionKey)
	if err != nil {
		return nil, err
	}

	// Repositories
	integrationRepo := repository.NewIntegrationRepository(db, cipher)
	eventRepo := repository.NewEventRepository(db)
	syncStateRepo := repository.NewSyncStateRepository(db)

	// Authorization layer doubles as the adapters' token source
	authService := service.NewAuthorizationService(integrationRepo, c, cfg)

	pageSize := cfg.Sync.PageSize
	if pageSize <= 0 {
		pageSize = constants.DefaultImportPageSize
	}
	httpClient := &http.Client{Timeout: constants.ProviderCallTimeout}

	registry := provider.NewRegistry()
	registry.Register(entity.ProviderGoogle,
		provider.NewGoogleAdapter(cfg.GoogleAPI, pageSize, authService, c, httpClient))
	registry.Register(entity.ProviderOutlook,
		provider.NewGraphAdapter(cfg.OutlookAPI, pageSize, authService, c, httpClient))

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	syncService := service.NewSyncService(integrationRepo, eventRepo, syncStateRepo, registry, c, taskClient, cfg.Sync.WindowDays)
	eventService := service.NewEventService(eventRepo, syncService)

	calendarController := controller.NewCalendarController(authService, syncService)
	eventController := controller.NewEventController(eventService)

	mw := middleware.NewMiddleware()
	router.NewCalendarRouter(calendarController, eventController).Setup(e, mw)

	return worker.New(cfg, syncService), nil
}
