package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/auth"
	"gatekeepr.org/internal/authz"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/config"
	"gatekeepr.org/internal/httpapi"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/obs"
	"gatekeepr.org/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error(context.Background(), "fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLogger(obs.NewLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)))
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.NewPolicyStore(cfg.PolicyFile)
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}

	rec := audit.NewRecorder(nil)
	resolver, err := authz.NewResolver(policy)
	if err != nil {
		return err
	}
	ids, err := identity.NewService(s.Identity(), rec,
		identity.WithRoleFloor(func() int { return policy.Current().SystemRoleFloor }))
	if err != nil {
		return err
	}
	tools, err := catalog.NewService(s.Catalog(), rec)
	if err != nil {
		return err
	}
	requests, err := access.NewService(s.Access(), rec, resolver)
	if err != nil {
		return err
	}
	trail, err := audit.NewService(s)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: s.DB()}
	api, err := httpapi.New(httpapi.Deps{
		Identity: ids,
		Catalog:  tools,
		Access:   requests,
		Audit:    trail,
		Tokens:   tokens,
		Ready:    probe,
	}, httpapi.Options{
		Version:      version,
		CookieSecure: cfg.CookieSecure,
		CORSOrigins:  cfg.CORSOrigins,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   float64(cfg.RatePerSec),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		obs.Info(gctx, "http_listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		httpapi.NewGRPCServer(probe, 0).Register(gs)
		g.Go(func() error {
			obs.Info(gctx, "grpc_listening", "addr", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		return access.NewSweeper(requests, func() time.Duration { return policy.Current().SweepInterval }).Run(gctx)
	})
	g.Go(func() error {
		return policy.Watch(gctx)
	})

	err = g.Wait()
	obs.Info(context.Background(), "stopped")
	return err
}
