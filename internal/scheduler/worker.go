package scheduler

import (
	"context"
	"fmt"
	"time"

	"crewcommand_backend/internal/followups/transport"
	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// DispatchRunner runs one dispatcher batch.
type DispatchRunner interface {
	Run(ctx context.Context) (transport.DispatchStats, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher DispatchRunner
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, dispatcher DispatchRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskFollowupDispatch, w.handleFollowupDispatch)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleFollowupDispatch runs one batch. Overlapping runs are safe because
// claimed messages are leased; a failed run is retried by asynq.
func (w *Worker) handleFollowupDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseFollowupDispatchPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	stats, err := w.dispatcher.Run(ctx)
	if err != nil {
		return err
	}

	if stats.DueCount > 0 {
		w.log.Info("followup dispatch task finished",
			"reason", payload.Reason,
			"due", stats.DueCount,
			"sent", stats.SentCount,
			"lag_ms", lagMillis(payload.RunAt))
	}
	return nil
}

func lagMillis(runAt time.Time) int64 {
	if runAt.IsZero() {
		return 0
	}
	return time.Since(runAt).Milliseconds()
}
