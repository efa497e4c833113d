package scheduler

import (
	"context"
	"fmt"
	"strings"

	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// DefaultDispatchCron runs the dispatcher every five minutes.
const DefaultDispatchCron = "*/5 * * * *"

// Periodic enqueues the dispatcher on a cron schedule.
type Periodic struct {
	scheduler *asynq.Scheduler
	cron      string
	queue     string
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	cron := strings.TrimSpace(cfg.GetDispatchCron())
	if cron == "" {
		cron = DefaultDispatchCron
	}

	p := &Periodic{cron: cron, queue: queueName(cfg), log: log}
	p.scheduler = asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		PostEnqueueFunc: p.afterEnqueue,
	})
	return p, nil
}

// Register adds the periodic dispatch entry. It fails on an invalid cron spec.
func (p *Periodic) Register() error {
	task, err := NewFollowupDispatchTask(FollowupDispatchPayload{Reason: ReasonPeriodic})
	if err != nil {
		return err
	}
	if _, err := p.scheduler.Register(p.cron, task, asynq.Queue(p.queue)); err != nil {
		return fmt.Errorf("register dispatch cron %q: %w", p.cron, err)
	}
	return nil
}

func (p *Periodic) Run(ctx context.Context) error {
	if p == nil || p.scheduler == nil {
		return nil
	}
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	p.log.Info("periodic dispatch scheduled", "cron", p.cron, "queue", p.queue)

	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}

func (p *Periodic) afterEnqueue(info *asynq.TaskInfo, err error) {
	if err != nil {
		p.log.Warn("periodic dispatch enqueue failed", "error", err)
		return
	}
	p.log.Debug("periodic dispatch enqueued", "task_id", info.ID)
}
