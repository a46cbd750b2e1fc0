// Package health exposes the standard gRPC health service for orchestrators
// and flips it according to database reachability.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "fileshare"

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 2 * time.Second
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	hs       *health.Server
	db       Pinger
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewChecker starts in NOT_SERVING until the first successful ping.
func NewChecker(db Pinger, interval time.Duration, log *zap.Logger) *Checker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{hs: health.NewServer(), db: db, interval: interval, timeout: defaultTimeout, log: log}
	c.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// NewServer returns a gRPC server with the health service registered.
func (c *Checker) NewServer() *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(c.log),
		LoggingUnary(c.log),
	))
	healthpb.RegisterHealthServer(s, c.hs)
	return s
}

// Run pings the database every interval until ctx is done, then marks the
// service as shutting down.
func (c *Checker) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.check(ctx)
		select {
		case <-ctx.Done():
			c.hs.Shutdown()
			return
		case <-t.C:
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.db.Ping(ctx); err != nil {
		if !errors.Is(ctx.Err(), context.Canceled) {
			c.log.Warn("health: db ping failed", zap.Error(err))
		}
		c.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	c.set(healthpb.HealthCheckResponse_SERVING)
}

func (c *Checker) set(st healthpb.HealthCheckResponse_ServingStatus) {
	c.hs.SetServingStatus("", st)
	c.hs.SetServingStatus(ServiceName, st)
}
