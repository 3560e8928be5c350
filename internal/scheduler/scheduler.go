package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/inkwell-press/inkwell/pkg/ranking"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	scheduleReadRankings  = "0 * * * *"
	scheduleDailyRankings = "0 3 * * *"
	scheduleExpireVIP     = "0 1 * * *"
	scheduleWeeklyTickets = "0 4 * * 1"
	defaultJobTimeout     = 10 * time.Minute
)

// Scheduler drives the recurring batch jobs: ranking generation, VIP
// expiry, and weekly ticket grants.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	service *economy.Service
	engine  *ranking.Engine
	timeout time.Duration
}

// New wires the batch jobs onto a cron runner in the given zone.
func New(logger *zap.Logger, service *economy.Service, engine *ranking.Engine, zone *time.Location) (*Scheduler, error) {
	scheduler := &Scheduler{
		cron:    cron.New(cron.WithLocation(zone)),
		logger:  logger,
		service: service,
		engine:  engine,
		timeout: defaultJobTimeout,
	}
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) error
	}{
		{"read_rankings", scheduleReadRankings, scheduler.engine.RunReadRankings},
		{"ticket_rankings", scheduleDailyRankings, scheduler.engine.RunTicketRankings},
		{"global_rankings", scheduleDailyRankings, scheduler.engine.RunGlobalRankings},
		{"expire_vip", scheduleExpireVIP, scheduler.runExpireVIP},
		{"weekly_tickets", scheduleWeeklyTickets, scheduler.runWeeklyTickets},
	}
	for _, job := range jobs {
		if _, err := scheduler.cron.AddFunc(job.schedule, scheduler.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return scheduler, nil
}

// Start begins executing scheduled jobs.
func (scheduler *Scheduler) Start() {
	scheduler.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (scheduler *Scheduler) Stop() {
	<-scheduler.cron.Stop().Done()
}

func (scheduler *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduler.timeout)
		defer cancel()
		started := time.Now()
		if err := run(ctx); err != nil {
			scheduler.logger.Error("batch job failed",
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
			return
		}
		scheduler.logger.Info("batch job finished",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)))
	}
}

func (scheduler *Scheduler) runExpireVIP(ctx context.Context) error {
	expired, err := scheduler.service.ExpireVIPChapters(ctx)
	if err != nil {
		return err
	}
	scheduler.logger.Info("vip chapters expired", zap.Int64("count", expired))
	return nil
}

func (scheduler *Scheduler) runWeeklyTickets(ctx context.Context) error {
	granted, err := scheduler.service.GrantWeeklyTickets(ctx)
	if err != nil {
		return err
	}
	scheduler.logger.Info("weekly tickets granted", zap.Int("accounts", granted))
	return nil
}
