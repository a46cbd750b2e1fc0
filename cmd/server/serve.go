package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/and161185/fileshare/internal/blob"
	"github.com/and161185/fileshare/internal/cache"
	"github.com/and161185/fileshare/internal/health"
	"github.com/and161185/fileshare/internal/jobs"
	"github.com/and161185/fileshare/internal/limiter"
	"github.com/and161185/fileshare/internal/migrate"
	"github.com/and161185/fileshare/internal/repository/postgres"
	"github.com/and161185/fileshare/internal/server/httpapi"
	"github.com/and161185/fileshare/internal/service"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, health endpoint and cleanup jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrateFirst)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "apply pending migrations before serving")
	bindFlags(a.v, cmd, map[string]string{"server.addr": "addr"})
	return cmd
}

func (a *app) serve(parent context.Context, migrateFirst bool) error {
	cfg, log := a.cfg, a.log
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Backend),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateFirst {
		ver, err := migrate.Up(ctx, cfg.DB.DSN, log)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info("schema up to date", zap.Int64("version", ver))
	}

	db, err := postgres.New(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer db.Close()

	blobs, err := blob.New(ctx, cfg.BlobConfig())
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	sessionCache := cache.New(cfg.CacheConfig())
	if c, ok := sessionCache.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	var lim limiter.Limiter = limiter.Nop{}
	if cfg.Auth.LimiterEnabled {
		lim = limiter.NewPG(db.Pool, cfg.LimiterPolicy())
	}

	users := postgres.NewUserRepo(db)
	sessions := postgres.NewSessionRepo(db)
	files := postgres.NewFileRepo(db)
	shares := postgres.NewShareRepo(db)

	authSvc := service.NewAuthService(users, sessions, lim, sessionCache, service.AuthConfig{
		SignKey:    []byte(cfg.Auth.JWTSecret),
		SessionTTL: cfg.Auth.SessionTTL,
		CacheTTL:   cfg.Cache.TTL,
	}, service.WithLogger(log.Named("auth")))
	shareSvc := service.NewShareService(shares, files, users, blobs, service.ShareConfig{
		DefaultExpiry: cfg.Share.DefaultExpiry,
	}, service.WithLogger(log.Named("shares")))
	fileSvc := service.NewFileService(files, blobs, shareSvc, cfg.Storage.MaxUploadBytes,
		service.WithLogger(log.Named("files")))

	proxies, err := httpapi.NewTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	api := httpapi.New(authSvc, fileSvc, shareSvc, db, httpapi.Config{
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RetryAfter:     cfg.Auth.LimiterBlockFor,
		TrustedProxies: proxies,
	}, log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if cfg.Health.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Health.GRPCAddr)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("health listen: %w", err)
		}
		checker := health.NewChecker(db, 0, log.Named("health"))
		gs := checker.NewServer()

		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			log.Info("grpc health listening", zap.String("addr", cfg.Health.GRPCAddr))
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			stopGRPC(gs, cfg.Server.ShutdownTimeout)
			return nil
		})
	}

	if cfg.Jobs.Enabled {
		sched, err := jobs.New(authSvc, shareSvc, jobs.Config{
			SessionEvery:   cfg.Jobs.SessionCleanup,
			ShareEvery:     cfg.Jobs.ShareCleanup,
			ShareRetention: cfg.Share.Retention,
			RunTimeout:     cfg.Jobs.RunTimeout,
		}, log.Named("jobs"))
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		sched.Start()
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			sched.Stop(sctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// stopGRPC drains in-flight calls, forcing a stop after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
