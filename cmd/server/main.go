package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"yomu/internal/config"
	"yomu/internal/db"
	"yomu/internal/handlers"
	"yomu/internal/middleware"
	"yomu/internal/router"
	"yomu/internal/services"
	"yomu/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}
	cfg := config.Load()
	setupLogging(cfg)

	// Initialize Database
	db.Init(cfg.DatabaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := services.NewStreamHub()
	var publisher services.Publisher = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		relay := services.NewRedisRelay(redis.NewClient(opts), hub, "")
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.WithError(err).Error("stream relay stopped")
			}
		}()
		publisher = relay
	}

	signals := services.NewBotSignalTracker(services.BotSignalPolicy{
		Threshold:         cfg.BotSignalThreshold,
		Window:            cfg.BotSignalWindow,
		ChallengeDuration: cfg.ChallengeDuration,
	}, nil)
	gate := services.NewAbuseGate(services.AbusePolicy{
		Cooldown:          cfg.CooldownWindow,
		DuplicateWindow:   cfg.DuplicateWindow,
		DuplicateLookback: cfg.DuplicateLookback,
		ChallengeTimeout:  cfg.ChallengeTimeout,
	}, signals, services.NewTurnstileVerifier(cfg.ChallengeSecret, cfg.ChallengeVerifyURL), nil)

	fanout := services.NewNotificationFanout(db.DB, publisher, cfg.NotificationRetention, nil)
	mentions := services.NewMentionResolver(db.DB, utils.GetCache())
	policy := services.DefaultCommentPolicy()
	policy.MaxContentLength = cfg.MaxContentLength
	comments := services.NewCommentService(db.DB, gate, mentions, fanout, policy, nil)

	// 后台任务
	fanout.StartScheduledCleanup(ctx, cfg.NotificationCleanupInterval)
	signals.StartPruning(ctx, cfg.BotPruneInterval)
	hub.StartHeartbeat(ctx, cfg.HeartbeatInterval)

	// Initialize Gin
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Setup Sessions
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("yomu_session", store))

	router.RegisterRoutes(r, router.Handlers{
		Comments:      handlers.NewCommentHandler(comments),
		Notifications: handlers.NewNotificationHandler(fanout),
		Stream:        handlers.NewStreamHandler(hub),
	}, middleware.LoadUser(db.DB))

	// request contexts end with ctx so open streams close on shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Printf("yomu server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
}

func setupLogging(cfg config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}
