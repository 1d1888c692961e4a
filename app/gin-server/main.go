package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/sebastianpando/lector-tts-app/config"
	"github.com/sebastianpando/lector-tts-app/internal/api/handlers"
	"github.com/sebastianpando/lector-tts-app/internal/api/routes"
	"github.com/sebastianpando/lector-tts-app/internal/cache"
	"github.com/sebastianpando/lector-tts-app/internal/logger"
	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/providers/tts"
	"github.com/sebastianpando/lector-tts-app/internal/ratelimit"
	"github.com/sebastianpando/lector-tts-app/internal/repositories"
	"github.com/sebastianpando/lector-tts-app/internal/repositories/memory"
	redisrepo "github.com/sebastianpando/lector-tts-app/internal/repositories/redis"
	"github.com/sebastianpando/lector-tts-app/internal/services"
	"github.com/sebastianpando/lector-tts-app/internal/storage"
	"github.com/sebastianpando/lector-tts-app/internal/workers"
	"github.com/sebastianpando/lector-tts-app/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	l := logger.New(cfg.LogLevel)
	if err := run(cfg, l); err != nil {
		l.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, l *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checks := map[string]handlers.Check{}

	// Stores: Redis when configured, otherwise this process only
	var (
		jobs     repositories.JobRepository
		progress cache.Cache
		limiter  ratelimit.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb, err := config.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
		l.Info("redis connected")

		jobs = redisrepo.NewJobRepo(rdb, cfg.Jobs.TTL)
		progress = cache.NewRedisCache(rdb, "lector:")
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		jobs = memory.NewJobRepo(cfg.Jobs.TTL)
		progress = cache.NewMemoryCache()
		limiter = ratelimit.NewMemory(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}

	provider, err := newProvider(ctx, cfg.TTS)
	if err != nil {
		return fmt.Errorf("tts provider init: %w", err)
	}
	l.WithField("provider", provider.Name()).Info("tts provider ready")

	var mirror storage.Uploader
	if cfg.Archive.MirrorBucket != "" {
		up, err := storage.NewGCSUploader(ctx, cfg.Archive.MirrorBucket, "archive/")
		if err != nil {
			return fmt.Errorf("archive mirror init: %w", err)
		}
		defer up.Close()
		mirror = up
	}

	archive, err := services.NewArchiveService(services.ArchiveConfig{
		Dir:    cfg.Archive.Dir,
		Max:    cfg.Archive.Max,
		Mirror: mirror,
	}, l, m)
	if err != nil {
		return err
	}

	sessions := services.NewSessionService(jobs, progress, services.SessionConfig{
		MaxChars:        cfg.Text.MaxChars,
		MaxWords:        cfg.Text.MaxWords,
		FirstSegmentMax: cfg.Text.FirstSegmentMax,
		SegmentMax:      cfg.Text.SegmentMax,
		Languages:       cfg.TTS.Languages,
		DefaultLanguage: cfg.TTS.DefaultLang,
		JobTTL:          cfg.Jobs.TTL,
	})

	streams, err := services.NewStreamService(provider, archive, progress, m, l, services.StreamConfig{
		PrebufferBytes: cfg.Stream.PrebufferBytes,
		SegmentTimeout: cfg.TTS.Timeout,
		Attempts:       cfg.TTS.Attempts,
		TempDir:        cfg.Archive.TempDir,
		ProgressTTL:    cfg.Jobs.TTL,
	})
	if err != nil {
		return err
	}

	janitor := &workers.Janitor{
		Jobs:    jobs,
		TempDir: cfg.Archive.TempDir,
		MaxAge:  cfg.Jobs.TTL + time.Duration(cfg.TTS.Attempts)*cfg.TTS.Timeout,
		Logger:  l,
	}
	if err := janitor.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	tmpl, err := web.Templates()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	routes.Use(r, l)
	routes.RegisterRoutes(r, routes.Deps{
		TTS:          handlers.NewTTSHandler(sessions, streams, l),
		Archive:      handlers.NewArchiveHandler(archive),
		Page:         handlers.NewPageHandler(sessions, archive, cfg.Text.MaxChars, l),
		WS:           handlers.NewWSHandler(sessions, 0),
		Health:       handlers.NewHealthHandler(checks),
		Metrics:      m,
		Limiter:      limiter,
		Log:          l,
		CookieSecure: cfg.Server.CookieSecure,
	})

	// No WriteTimeout: audio streams run as long as synthesis takes.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newProvider(ctx context.Context, cfg config.TTSConfig) (tts.Provider, error) {
	switch cfg.Provider {
	case "cloud":
		var opts []option.ClientOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithEndpoint(cfg.BaseURL))
		}
		return tts.NewCloud(ctx, cfg.APIKey, opts...)
	case "static":
		return tts.NewStatic(nil), nil
	default:
		base := cfg.BaseURL
		if base == "" {
			base = tts.DefaultTranslateURL
		}
		return tts.NewTranslate(base, &http.Client{Timeout: cfg.Timeout}), nil
	}
}
