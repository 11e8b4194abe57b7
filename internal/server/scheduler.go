package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

const (
	schedulerTick    = 15 * time.Minute
	schedulerLockKey = "deepcounsel:sched:usage_reset"
	schedulerLockTTL = 5 * time.Minute
)

// Scheduler sweeps stale daily usage counters on a cron-style cadence.
// The sweep is a safety net: the store already applies rollover lazily
// on reads, and the guard's day keys expire in Redis on their own, so a
// missed tick costs nothing but a later reset of idle rows.
type Scheduler struct {
	Store  *store.Store
	Rdb    *redis.Client
	Spec   string // "@daily", "@hourly", or a cron expression
	Stop   chan struct{}
	Logger *log.Logger

	lastSweep time.Time
}

// Start launches the sweep loop. Close Stop to halt it.
func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(schedulerTick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.Stop:
				return
			case <-ticker.C:
				s.tick(time.Now())
			}
		}
	}()
}

func (s *Scheduler) tick(now time.Time) {
	if !isDue(s.Spec, s.lastSweep, now) {
		return
	}

	ctx := context.Background()
	// One sweep per cadence across replicas.
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, schedulerLockKey, "1", schedulerLockTTL).Result()
		if err != nil {
			s.Logger.Printf("sweep lock: %v", err)
			return
		}
		if !ok {
			s.lastSweep = now
			return
		}
	}

	n, err := s.Store.ResetStaleUsage(ctx)
	if err != nil {
		s.Logger.Printf("usage sweep failed: %v", err)
		return
	}
	s.lastSweep = now
	if n > 0 {
		s.Logger.Printf("usage sweep reset %d stale counters", n)
	}
}

// isDue reports whether a sweep under spec should run at now, given the
// last sweep time. Supports "@daily", "@hourly", and 5-field cron
// expressions; an invalid spec falls back to @daily.
func isDue(spec string, last, now time.Time) bool {
	switch spec {
	case "", "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return last.IsZero() || now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(spec)
		if err != nil {
			return last.IsZero() || now.Sub(last) >= 24*time.Hour
		}
		if last.IsZero() {
			return true
		}
		return !expr.Next(last).After(now)
	}
}
