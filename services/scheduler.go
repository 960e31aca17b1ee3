// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const cleanupTimeout = time.Minute

// RunCleanup deletes matches created more than maxAge ago.
func (s *MatchService) RunCleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return s.Router.DeleteOlderThan(ctx, cutoff)
}

// StartCleanupScheduler runs retention cleanup every interval. The caller owns
// Shutdown on the returned scheduler.
func (s *MatchService) StartCleanupScheduler(maxAge, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()

			n, err := s.RunCleanup(ctx, maxAge)
			if err != nil {
				log.Printf("[Scheduler] Cleanup failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ [Scheduler] Removed %d match(es) older than %s", n, maxAge)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Printf("⏱️ [Scheduler] Cleanup every %s (max age %s)", interval, maxAge)
	return sched, nil
}
