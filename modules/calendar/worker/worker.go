package worker

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"lms-calendar-api/core/config"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/service"
)

// Worker runs the background side of the calendar module: the periodic
// two-way sync over all connected integrations and the remote-delete retry
// queue.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	sync      service.SyncService
}

func New(cfg *config.Config, syncService service.SyncService) *Worker {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	concurrency := cfg.Sync.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.TaskQueueCalendar: 1,
		},
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)

	return &Worker{
		server:    server,
		scheduler: scheduler,
		sync:      syncService,
	}
}

// Start registers the handlers and the periodic sync, then begins processing.
// Non-blocking; call Shutdown on exit.
func (w *Worker) Start(cronSpec string) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSyncAll, w.handleSyncAll)
	mux.HandleFunc(service.TaskTypeRemoteDeleteRetry, w.handleRemoteDeleteRetry)

	if cronSpec != "" {
		if _, err := w.scheduler.Register(cronSpec, service.NewSyncAllTask()); err != nil {
			return err
		}
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}

	if err := w.server.Start(mux); err != nil {
		return err
	}
	logger.Info("Worker:Started", "cron", cronSpec)
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}

func (w *Worker) handleSyncAll(ctx context.Context, _ *asynq.Task) error {
	logger.Info("Worker:SyncAll:Start")
	return w.sync.SyncAllConnected(ctx)
}

func (w *Worker) handleRemoteDeleteRetry(ctx context.Context, task *asynq.Task) error {
	var payload service.RemoteDeletePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Error("Worker:RemoteDeleteRetry:Payload:Error", "error", err)
		return nil // malformed payload, retrying cannot help
	}
	return w.sync.RetryRemoteDelete(ctx, payload)
}
