package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// Sweeper is the part of the progress service the job needs.
type Sweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int64, error)
}

// SweepJob periodically deletes progress snapshots older than MaxAge.
type SweepJob struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	every     string
	maxAge    time.Duration

	mu      sync.Mutex
	running bool
}

// NewSweepJob accepts either a duration ("10m") or a five field cron
// expression ("*/10 * * * *") for every.
func NewSweepJob(sweeper Sweeper, every string, maxAge time.Duration) *SweepJob {
	return &SweepJob{
		scheduler: gocron.NewScheduler(time.UTC),
		sweeper:   sweeper,
		every:     strings.TrimSpace(every),
		maxAge:    maxAge,
	}
}

func (j *SweepJob) Start(ctx context.Context) error {
	var job *gocron.Scheduler
	if strings.Contains(j.every, " ") {
		job = j.scheduler.Cron(j.every)
	} else {
		job = j.scheduler.Every(j.every)
	}
	if _, err := job.Do(func() { j.Run(ctx) }); err != nil {
		return fmt.Errorf("schedule snapshot sweep %q: %w", j.every, err)
	}
	j.scheduler.StartAsync()
	log.Info().Str("every", j.every).Dur("max_age", j.maxAge).Msg("snapshot sweeper started")

	go func() {
		<-ctx.Done()
		j.scheduler.Stop()
		log.Info().Msg("snapshot sweeper stopped")
	}()
	return nil
}

// Run performs one sweep. Overlapping runs are skipped.
func (j *SweepJob) Run(ctx context.Context) int64 {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		log.Debug().Msg("snapshot sweep already running, skipping")
		return 0
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	n, err := j.sweeper.Sweep(ctx, j.maxAge)
	if err != nil {
		log.Error().Err(err).Msg("snapshot sweep failed")
		return 0
	}
	log.Info().Int64("deleted", n).Dur("took", time.Since(start)).Msg("snapshot sweep done")
	return n
}
