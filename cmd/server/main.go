package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	handlers "github.com/voxbridge/voxbridge/internal/handler"
	"github.com/voxbridge/voxbridge/internal/models"
	"github.com/voxbridge/voxbridge/pkg/bridge"
	"github.com/voxbridge/voxbridge/pkg/config"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"github.com/voxbridge/voxbridge/pkg/middleware"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"github.com/voxbridge/voxbridge/pkg/telephony"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	mode := flag.String("mode", "", "running environment (development, production)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}

	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig

	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		logger.Error("database open failed", zap.Error(err))
		return
	}
	if err := models.Migrate(db); err != nil {
		logger.Error("database migration failed", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := progress.NewHub()
	service := bridge.New(db, hub, bridge.Options{
		LLMApiKey:  cfg.LLMApiKey,
		LLMBaseURL: cfg.LLMBaseURL,
		LLMModel:   cfg.LLMModel,
		Voice: telephony.Voice{
			Name:     cfg.DefaultVoice,
			Language: cfg.DefaultLanguage,
		},
		Recognizer: telephony.Recognizer{
			Language:      cfg.DefaultLanguage,
			MinConfidence: cfg.MinConfidence,
		},
		WatchdogTimeout: cfg.WatchdogTimeout,
		GatherRetries:   cfg.GatherRetries,
		ToolLoopLimit:   cfg.ToolLoopLimit,
	})

	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger.L()))

	h := handlers.NewHandlers(db, hub, cfg.TelephonyWSToken, func(driver telephony.Driver) {
		go func() {
			service.Serve(ctx, driver)
			_ = driver.Close()
		}()
	})
	h.Register(r, cfg.APIPrefix)
	r.GET(cfg.MetricsPrefix, gin.WrapH(promhttp.Handler()))

	logger.Info("server starting",
		zap.String("name", cfg.ServerName),
		zap.String("addr", cfg.Addr),
		zap.String("mode", cfg.Mode))

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		os.Exit(0)
	}()

	if err := r.Run(cfg.Addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
