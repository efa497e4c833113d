package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskFollowupDispatch = "followups:dispatch"

const (
	ReasonPeriodic = "periodic"
	ReasonWakeUp   = "wake_up"
)

type FollowupDispatchPayload struct {
	Reason string    `json:"reason"`
	RunAt  time.Time `json:"runAt,omitempty"`
}

func NewFollowupDispatchTask(payload FollowupDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowupDispatch, data), nil
}

func ParseFollowupDispatchPayload(task *asynq.Task) (FollowupDispatchPayload, error) {
	var payload FollowupDispatchPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FollowupDispatchPayload{}, err
	}
	return payload, nil
}
