package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/artifacts"
	"github.com/ftpay/portalwatch/internal/database"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/utils"
)

// ScreenshotSweepJob deletes screenshot evidence older than the retention
// window. When an archive service is configured, the current evidence is
// shipped to the bucket first so nothing is lost.
type ScreenshotSweepJob struct {
	Store     *artifacts.Store
	Archive   *artifacts.ArchiveService // optional
	Retention time.Duration
	Log       zerolog.Logger
}

func (j *ScreenshotSweepJob) Name() string { return "screenshot_sweep" }

func (j *ScreenshotSweepJob) Run() error {
	defer utils.OperationTimer("screenshot_sweep", j.Log)()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if j.Archive != nil {
		if _, err := j.Archive.ArchiveNow(ctx); err != nil {
			// Archiving failure must not block the sweep; disk fills up
			// regardless of bucket availability.
			j.Log.Error().Err(err).Msg("Screenshot archive failed, sweeping anyway")
		}
	}

	_, err := j.Store.Sweep(j.Retention)
	return err
}

// HistoryPruneJob removes cycle records older than the history retention
// window and checkpoints the WAL afterwards.
type HistoryPruneJob struct {
	Repo      *history.Repository
	DB        *database.DB
	Retention time.Duration
	Log       zerolog.Logger
}

func (j *HistoryPruneJob) Name() string { return "history_prune" }

func (j *HistoryPruneJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	measure := utils.MeasureDBQuery("history_prune", j.Log)
	n, err := j.Repo.DeleteOlderThan(ctx, time.Now().Add(-j.Retention))
	if err != nil {
		return err
	}
	measure(n)
	if n > 0 {
		j.Log.Info().Int64("cycles", n).Msg("Pruned old cycle history")
	}
	return j.DB.WALCheckpoint("TRUNCATE")
}

// ArchiveRotationJob deletes bucket archives past their retention.
type ArchiveRotationJob struct {
	Archive       *artifacts.ArchiveService
	RetentionDays int
}

func (j *ArchiveRotationJob) Name() string { return "archive_rotation" }

func (j *ArchiveRotationJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return j.Archive.RotateOld(ctx, j.RetentionDays)
}

// DatabaseHealthJob runs the periodic integrity check on the history
// database.
type DatabaseHealthJob struct {
	DB  *database.DB
	Log zerolog.Logger
}

func (j *DatabaseHealthJob) Name() string { return "database_health" }

func (j *DatabaseHealthJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.DB.HealthCheck(ctx); err != nil {
		j.Log.Error().Err(err).Msg("History database failed health check")
		return err
	}
	return nil
}
