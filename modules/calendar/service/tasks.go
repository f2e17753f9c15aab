package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Background task types processed by the calendar worker.
const (
	TaskTypeSyncAll           = "calendar:sync_all"
	TaskTypeRemoteDeleteRetry = "calendar:remote_delete_retry"
	TaskQueueCalendar         = "calendar"
)

// RemoteDeletePayload identifies a remote event whose deletion failed and must
// be retried. The local row is already gone by the time this task runs.
type RemoteDeletePayload struct {
	IntegrationID   uuid.UUID `json:"integration_id"`
	ExternalEventID string    `json:"external_event_id"`
}

func NewRemoteDeleteTask(integrationID uuid.UUID, externalEventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RemoteDeletePayload{
		IntegrationID:   integrationID,
		ExternalEventID: externalEventID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRemoteDeleteRetry, payload, asynq.Queue(TaskQueueCalendar), asynq.MaxRetry(5)), nil
}

func NewSyncAllTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSyncAll, nil, asynq.Queue(TaskQueueCalendar))
}
