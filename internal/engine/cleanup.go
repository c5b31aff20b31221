package engine

import (
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// CleanupScheduler periodically sweeps sessions older than the configured
// retention window out of the engine's in-memory store, on the cadence
// named by cfg.Engine.CleanupCronExpr.
type CleanupScheduler struct {
	engine *Engine
	cron   string
	maxAge time.Duration
	stop   chan struct{}
	logger *log.Logger
}

// NewCleanupScheduler builds a scheduler for eng, reading its cadence and
// retention window from eng's config.
func NewCleanupScheduler(eng *Engine) *CleanupScheduler {
	return &CleanupScheduler{
		engine: eng,
		cron:   eng.cfg.Engine.CleanupCronExpr,
		maxAge: time.Duration(eng.cfg.Engine.SessionRetentionHours) * time.Hour,
		stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[cleanup] ", log.LstdFlags),
	}
}

// Start runs the scheduler loop in the background until Stop is called.
func (s *CleanupScheduler) Start() {
	expr, err := cronexpr.Parse(s.cron)
	if err != nil {
		s.logger.Printf("invalid cleanup cron expr %q, sweeping every minute: %v", s.cron, err)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				if expr != nil && expr.Next(last).After(now) {
					continue
				}
				last = now
				if removed := s.engine.CleanupOld(s.maxAge); len(removed) > 0 {
					s.logger.Printf("swept %d stale sessions", len(removed))
				}
			}
		}
	}()
}

// Stop halts the scheduler loop.
func (s *CleanupScheduler) Stop() {
	close(s.stop)
}
