// Package jobs runs periodic maintenance: expired session and share cleanup.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionCleaner removes expired sessions.
type SessionCleaner interface {
	CleanupSessions(ctx context.Context) (int64, error)
}

// ShareCleaner removes grants that lapsed more than retention ago.
type ShareCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	SessionEvery   time.Duration
	ShareEvery     time.Duration
	ShareRetention time.Duration
	RunTimeout     time.Duration
}

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	sessions SessionCleaner
	shares   ShareCleaner
	cfg      Config
	log      *zap.Logger
}

// New registers both cleanup jobs. Nothing runs until Start.
func New(sessions SessionCleaner, shares ShareCleaner, cfg Config, log *zap.Logger) (*Scheduler, error) {
	if cfg.SessionEvery <= 0 || cfg.ShareEvery <= 0 {
		return nil, errors.New("jobs: intervals must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sessions: sessions,
		shares:   shares,
		cfg:      cfg,
		log:      log,
	}
	if _, err := s.cron.AddFunc(every(cfg.SessionEvery), func() { s.run("session_cleanup", s.cleanupSessions) }); err != nil {
		return nil, fmt.Errorf("schedule session cleanup: %w", err)
	}
	if _, err := s.cron.AddFunc(every(cfg.ShareEvery), func() { s.run("share_cleanup", s.cleanupShares) }); err != nil {
		return nil, fmt.Errorf("schedule share cleanup: %w", err)
	}
	return s, nil
}

func every(d time.Duration) string { return "@every " + d.String() }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs or ctx, whichever first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) run(name string, job func(context.Context) (int64, error)) {
	ctx := context.Background()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.log.Info("job done", zap.String("job", name), zap.Int64("removed", n), zap.Duration("dur", time.Since(start)))
}

func (s *Scheduler) cleanupSessions(ctx context.Context) (int64, error) {
	return s.sessions.CleanupSessions(ctx)
}

func (s *Scheduler) cleanupShares(ctx context.Context) (int64, error) {
	return s.shares.CleanupExpired(ctx, s.cfg.ShareRetention)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
