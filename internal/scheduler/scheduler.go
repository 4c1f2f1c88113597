// Package scheduler runs the daemon's periodic maintenance: cache sweeps,
// background refresh of watched resources, and the missed-notification
// digest email.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/viralboost/boostd/internal/platform"
	"github.com/viralboost/boostd/internal/querycache"
	"github.com/viralboost/boostd/internal/storage"
)

// digestSendTimeout bounds one digest delivery attempt.
const digestSendTimeout = 30 * time.Second

// Config holds the scheduler configuration.
type Config struct {
	Cache  *querycache.Coordinator
	Store  storage.NotificationStore
	Mailer platform.Provider
	Logger *slog.Logger

	// SweepInterval controls how often idle cache entries are evicted.
	// Defaults to 5m.
	SweepInterval time.Duration
	// RefreshInterval controls background refresh of subscribed entries.
	// Defaults to 1m.
	RefreshInterval time.Duration
	// DigestInterval controls how often queued notifications are flushed
	// into a digest email. Defaults to 15m. Mailer may be nil; the digest
	// job then never runs.
	DigestInterval time.Duration
}

// Scheduler manages the periodic jobs using gocron.
type Scheduler struct {
	cron   gocron.Scheduler
	cfg    Config
	logger *slog.Logger
}

// New creates a new Scheduler.
func New(cfg Config) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.DigestInterval <= 0 {
		cfg.DigestInterval = 15 * time.Minute
	}

	return &Scheduler{cron: cron, cfg: cfg, logger: cfg.Logger}, nil
}

// Start registers the jobs and starts the gocron scheduler.
func (s *Scheduler) Start(_ context.Context) error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"cache_sweep", s.cfg.SweepInterval, s.sweepCache},
		{"cache_refresh", s.cfg.RefreshInterval, s.refreshCache},
	}
	if s.cfg.Mailer != nil && s.cfg.Store != nil {
		jobs = append(jobs, struct {
			name     string
			interval time.Duration
			run      func()
		}{"notification_digest", s.cfg.DigestInterval, s.sendDigest})
	}

	for _, j := range jobs {
		_, err := s.cron.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
		)
		if err != nil {
			return fmt.Errorf("scheduling %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop shuts down the gocron scheduler.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

func (s *Scheduler) sweepCache() {
	if evicted := s.cfg.Cache.SweepIdle(); evicted > 0 {
		s.logger.Debug("swept idle cache entries", "evicted", evicted)
	}
}

func (s *Scheduler) refreshCache() {
	if refreshed := s.cfg.Cache.RefreshSubscribed(); refreshed > 0 {
		s.logger.Debug("refreshed subscribed cache entries", "refreshed", refreshed)
	}
}

// sendDigest flushes queued notifications into one digest email. Entries
// are marked emailed only after the provider accepts the message, so a
// failed send retries them on the next run.
func (s *Scheduler) sendDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), digestSendTimeout)
	defer cancel()

	entries, err := s.cfg.Store.PendingDigest(ctx)
	if err != nil {
		s.logger.Error("loading pending digest entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	msg, err := platform.BuildDigest(entries)
	if err != nil {
		s.logger.Error("building digest", "error", err)
		return
	}
	if err := s.cfg.Mailer.Send(ctx, msg); err != nil {
		s.logger.Error("sending digest", "provider", s.cfg.Mailer.Name(),
			"entries", len(entries), "error", err)
		return
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := s.cfg.Store.MarkEmailed(ctx, ids, time.Now().UTC()); err != nil {
		s.logger.Error("marking digest entries emailed", "error", err)
		return
	}
	s.logger.Info("digest sent", "entries", len(entries))
}
