// Package main is the entry point for the portalwatch payment gateway
// monitor. It drives a headless browser session against the payment
// portal, validates the consolidated state report on every cycle, and
// alerts the operations channel over Telegram when a merchant breaks a
// business rule.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ftpay/portalwatch/internal/artifacts"
	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/database"
	"github.com/ftpay/portalwatch/internal/events"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/monitor"
	"github.com/ftpay/portalwatch/internal/notify"
	"github.com/ftpay/portalwatch/internal/notify/telegram"
	"github.com/ftpay/portalwatch/internal/scheduler"
	"github.com/ftpay/portalwatch/internal/server"
	"github.com/ftpay/portalwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("Starting portalwatch")

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileLedger,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer db.Close()

	repo, err := history.NewRepository(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history repository")
	}

	store := artifacts.NewStore(cfg.ScreenshotDir, log)

	var archive *artifacts.ArchiveService
	if cfg.Archive.Enabled {
		s3, err := artifacts.NewS3Client(cfg.Archive.Endpoint, cfg.Archive.AccessKey,
			cfg.Archive.SecretKey, cfg.Archive.Bucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive storage")
		}
		archive = artifacts.NewArchiveService(store, s3, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Screenshot archive enabled")
	}

	if cfg.TelegramToken == "" {
		log.Warn().Msg("Telegram token not configured, notifications disabled")
	}
	notifier := notify.NewNotifier(telegram.NewClient(cfg.TelegramToken, log), cfg.Recipients, log)

	bus := events.NewBus()

	loop := monitor.New(cfg,
		monitor.NewChromeSessionFactory(cfg, store, log),
		notifier,
		&monitor.HistoryRecorder{Repo: repo},
		store, bus, log)

	sched := scheduler.New(log)
	jobs := map[string]scheduler.Job{
		"0 */30 * * * *": &scheduler.ScreenshotSweepJob{
			Store:     store,
			Archive:   archive,
			Retention: cfg.ScreenshotRetention,
			Log:       log,
		},
		"0 0 3 * * *": &scheduler.HistoryPruneJob{
			Repo:      repo,
			DB:        db,
			Retention: cfg.HistoryRetention,
			Log:       log,
		},
		"0 15 * * * *": &scheduler.DatabaseHealthJob{DB: db, Log: log},
	}
	if archive != nil {
		jobs["0 30 3 * * *"] = &scheduler.ArchiveRotationJob{
			Archive:       archive,
			RetentionDays: cfg.Archive.RetentionDays,
		}
	}
	for spec, job := range jobs {
		if err := sched.AddJob(spec, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to schedule job")
		}
	}
	sched.Start()
	defer sched.Stop()

	var srv *server.Server
	if cfg.Port > 0 {
		srv = server.New(server.Config{
			Log:           log,
			Port:          cfg.Port,
			DevMode:       cfg.DevMode,
			Monitor:       loop,
			History:       repo,
			DB:            db,
			Bus:           bus,
			ScreenshotDir: cfg.ScreenshotDir,
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Failed to start status server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loop.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Monitor loop exited with error")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown failed")
		}
	}
	log.Info().Msg("Shutdown complete")
}
