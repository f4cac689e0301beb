package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/app/sfu"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/media/pionengine"
	"github.com/dkeye/Conference/internal/ratelimit"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// A dead media worker cannot be recovered; the whole process restarts.
	fatal := make(chan error, 1)
	pool := sfu.NewWorkerPool(cfg.Media.WorkerDeathGrace, func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	engine := pionengine.New(pionengine.Config{
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.MinPort,
		MaxPort:     cfg.Media.MaxPort,
		EnableTCP:   cfg.Media.EnableTCP,
	})
	if err := pool.Initialize(ctx, engine, cfg.Media.WorkerCount()); err != nil {
		log.Fatal().Err(err).Msg("media workers")
	}
	svc := sfu.NewService(pool, sfu.Options{
		Codecs: cfg.Media.Codecs,
		Transport: media.WebRtcTransportOptions{
			EnableUdp: true,
			EnableTcp: cfg.Media.EnableTCP,
			PreferUdp: cfg.Media.PreferUDP,
		},
	})

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.Rooms.JoinRateLimit, cfg.Rooms.JoinRateWindow)
	redisLimiter, err := ratelimit.NewRedisFromURL(cfg.Redis.URL, cfg.Rooms.JoinRateLimit, cfg.Rooms.JoinRateWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	if redisLimiter != nil {
		limiter = redisLimiter
		defer redisLimiter.Close()
	}

	o := &orch.Orchestrator{
		Registry:           app.NewRegistry(),
		Rooms:              app.NewRoomManager(),
		Media:              svc,
		Policy:             app.SimplePolicy{},
		Admission:          app.WaitingRoomPolicy{CoHostBypass: cfg.Rooms.CoHostBypass},
		JoinLimiter:        limiter,
		WaitingRoomDefault: cfg.Rooms.WaitingRoomDefault,
	}
	o.BindMediaHandlers()

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Int("workers", pool.Size()).Msg("Conference server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	svc.Shutdown()
	if err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("Server exited gracefully")
}
