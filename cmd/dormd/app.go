package main

import (
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dormitory-access-backend/config"
	"dormitory-access-backend/internal/db"
	"dormitory-access-backend/internal/device"
	"dormitory-access-backend/internal/logging"
	"dormitory-access-backend/internal/notification"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/resident"
	"dormitory-access-backend/internal/store"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	store     store.Store
	alerts    *notification.WorkerPool
	webpush   *webpush.Options
	residents *resident.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, "dormd")
	if err != nil {
		return nil, err
	}
	log.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	capability := device.NewISAPIClient(device.ISAPIConfig{
		Scheme:        cfg.Devices.Scheme,
		Timeout:       cfg.Devices.Timeout,
		FaceLibraryID: cfg.Devices.FaceLibraryID,
		ValidUntil:    cfg.Devices.ValidUntil,
	}, log.Named("device"))
	orch := orchestrator.New(capability, orchestrator.Config{
		SweepInterval: cfg.Sync.Interval,
		MaxPhotoBytes: cfg.Sync.MaxPhotoBytes,
		TempDir:       cfg.Sync.TempDir,
	}, log.Named("orchestrator"))

	a := &app{cfg: cfg, log: log, db: gormDB, store: appStore}
	opts := []resident.Option{resident.WithMaxPhotoBytes(cfg.Sync.MaxPhotoBytes)}
	if cfg.Push.Enabled() {
		a.webpush = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		a.alerts = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, a.webpush, log.Named("alerts"))
		opts = append(opts, resident.WithAlerter(a.alerts))
	} else {
		log.Warn("VAPID keys are not configured, failure alerts are disabled")
	}
	a.residents = resident.NewService(appStore, orch, log.Named("resident"), opts...)
	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.log.Sync()
}
