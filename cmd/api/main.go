package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"schoolbot/internal/attendance"
	"schoolbot/internal/auth"
	"schoolbot/internal/cloudinary"
	"schoolbot/internal/config"
	"schoolbot/internal/engine"
	"schoolbot/internal/flows"
	"schoolbot/internal/gateway"
	"schoolbot/internal/httpapi"
	"schoolbot/internal/logging"
	"schoolbot/internal/notify"
	"schoolbot/internal/queue"
	"schoolbot/internal/school"
	"schoolbot/internal/session"
	"schoolbot/internal/store"
	"schoolbot/internal/texts"
)

var version = "dev"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.WithRollbar(logging.New(os.Stderr, !cfg.Production()), cfg.RollbarToken, cfg.Env, version)
	defer logging.Flush()

	if err := run(cfg, logger); err != nil {
		logger.Errorf("http server failed: %v", err)
		logging.Flush()
		os.Exit(1)
	}
}

func run(cfg config.App, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := school.Migrate(ctx, db.Client); err != nil {
		return err
	}
	repo := school.NewRepository(db.Client)

	health := map[string]httpapi.HealthCheck{"db": db.Healthy}

	var redisClient *store.Redis
	if cfg.SessionBackend == "redis" || cfg.QueueBackend == "redis" {
		if redisClient, err = store.NewRedis(ctx, cfg.RedisAddr); err != nil {
			return err
		}
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var sessions session.Store
	var locker engine.Locker
	if cfg.SessionBackend == "redis" {
		sessions = session.NewRedis(redisClient.Client, "schoolbot:session:", cfg.SessionIdleTimeout)
		locker = session.NewLocker(redisClient.Client, "schoolbot:lock:", 30*time.Second)
	} else {
		mem := session.NewMemory(cfg.SessionIdleTimeout)
		sessions = mem
		if cfg.SessionIdleTimeout > 0 {
			sweeper := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
			if _, err := sweeper.AddFunc("@every 1m", func() {
				if n := mem.Sweep(); n > 0 {
					logger.Debugf("session sweep: dropped %d idle sessions", n)
				}
			}); err != nil {
				return err
			}
			sweeper.Start()
			defer sweeper.Stop()
		}
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "schoolbot:deliveries")
	} else {
		q = queue.NewInMemory(256)
	}

	creds := auth.NewSource("schoolbot-api", auth.RoleGateway, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	if _, err := creds.Token(ctx); err != nil {
		return err
	}
	gw := gateway.New(cfg.GatewayURL, creds, cfg.GatewaySkip)
	if err := gw.Health(ctx); err != nil {
		logger.Warnf("gateway not available: %v", err)
	}
	notifier := notify.New(repo, gw, q, logger)

	if cfg.QueueBackend != "redis" {
		// no separate worker can reach an in-process queue
		go runRedelivery(ctx, notify.NewRedeliverer(gw, q, cfg.MaxDeliveryAttempts, 5*time.Second, logger), q, logger)
	}

	catalog := texts.Default()
	deps := flows.Deps{
		Store:       repo,
		Verifier:    attendance.NewVerifier(repo, repo, cfg.TokenValidity, nil),
		Issuer:      attendance.NewIssuer(nil),
		Texts:       catalog,
		Logger:      logger,
		TeacherCode: cfg.TeacherCode,
		AdminCode:   cfg.AdminCode,
	}
	if cfg.CloudinaryEnabled() {
		deps.Images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Infof("cloudinary configured: %s", cfg.CloudinaryCloudName)
	}

	eng := engine.New(engine.Config{
		Router:   flows.New(deps).Router(),
		Sessions: sessions,
		Users:    repo,
		Notifier: notifier,
		Locker:   locker,
		Texts:    catalog,
		Logger:   logger,
	})

	router := httpapi.NewRouter(httpapi.Options{
		Engine:          eng,
		Attendance:      repo,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Infof("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server forced shutdown: %v", err)
	}
	logger.Infof("server exited, %d conversations in flight", eng.Pending())
	return nil
}

func runRedelivery(ctx context.Context, r *notify.Redeliverer, q queue.Queue, logger logging.Logger) {
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Errorf("redelivery consume init failed: %v", err)
		return
	}
	for msg := range messages {
		if err := r.Process(ctx, msg); err != nil {
			logger.Warnf("redelivery: %v", err)
		}
	}
}
