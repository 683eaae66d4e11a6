package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/artifacts"
	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/events"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/portal"
	"github.com/ftpay/portalwatch/internal/utils"
	"github.com/ftpay/portalwatch/internal/validation"
)

// Loop is the resilient monitor: it owns session lifecycles and survives any
// portal failure by tearing the session down and rebuilding it.
type Loop struct {
	cfg      *config.Config
	factory  SessionFactory
	alerter  Alerter
	recorder CycleRecorder
	shots    *artifacts.Store
	bus      *events.Bus
	log      zerolog.Logger

	st  status
	now func() time.Time

	// restartDelay spaces out session rebuilds so a dead portal is not
	// hammered with logins.
	restartDelay time.Duration
}

func New(cfg *config.Config, factory SessionFactory, alerter Alerter, recorder CycleRecorder,
	shots *artifacts.Store, bus *events.Bus, log zerolog.Logger) *Loop {
	return &Loop{
		cfg:          cfg,
		factory:      factory,
		alerter:      alerter,
		recorder:     recorder,
		shots:        shots,
		bus:          bus,
		log:          log.With().Str("component", "monitor").Logger(),
		now:          time.Now,
		restartDelay: 30 * time.Second,
	}
}

// Status returns a snapshot for the status API.
func (l *Loop) Status() Status {
	return l.st.snapshot()
}

// Run blocks until ctx is cancelled. Every exit path, including panics
// bubbling out of a cycle, goes through the session teardown.
func (l *Loop) Run(ctx context.Context) error {
	l.st.update(func(s *Status) {
		s.State = StateStarting
		s.StartedAt = l.now()
	})
	l.log.Info().Msg("Monitor starting")
	if err := l.alerter.Info(ctx, "Payment gateway monitor started"); err != nil {
		l.log.Warn().Err(err).Msg("Start notification failed")
	}

	for {
		if ctx.Err() != nil {
			break
		}

		driver, checker, err := l.factory(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.log.Error().Err(err).Msg("Could not build portal session")
			l.noteError(err)
			if err := browser.Sleep(ctx, l.restartDelay); err != nil {
				break
			}
			continue
		}

		err = l.runSession(ctx, driver, checker)
		driver.Close()

		if ctx.Err() != nil {
			break
		}

		l.setState(StateRestoring)
		l.st.update(func(s *Status) { s.Restarts++ })
		l.bus.Publish(events.TypeSessionRestart, map[string]string{"reason": errString(err)})
		l.log.Warn().Err(err).Msg("Session lost, rebuilding after delay")
		if err := browser.Sleep(ctx, l.restartDelay); err != nil {
			break
		}
	}

	l.setState(StateStopped)
	l.log.Info().Msg("Monitor stopped")

	// ctx is already cancelled; the goodbye gets its own deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.alerter.Info(stopCtx, "Payment gateway monitor stopped"); err != nil {
		l.log.Warn().Err(err).Msg("Stop notification failed")
	}
	return nil
}

// runSession drives cycles against one authenticated session until the
// session breaks or ctx is cancelled. The caller always closes the driver.
func (l *Loop) runSession(ctx context.Context, driver PortalDriver, checker Checker) error {
	if err := driver.Login(ctx); err != nil {
		if ctx.Err() == nil {
			l.reportFailure(ctx, driver, fmt.Errorf("login failed: %w", err))
		}
		return err
	}
	l.setState(StateLoggedIn)
	l.log.Info().Msg("Portal session established")

	for {
		rec, err := l.runCycle(ctx, driver, checker)
		l.record(rec)

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.reportFailure(ctx, driver, err)
			return err
		}

		l.setState(StateSleeping)
		l.st.update(func(s *Status) { s.NextCycleDue = l.now().Add(l.cfg.CycleInterval) })
		if err := browser.Sleep(ctx, l.cfg.CycleInterval); err != nil {
			return nil
		}
	}
}

// runCycle performs one monitoring pass. On the heartbeat minute the whole
// check runs twice and an alive message goes out, so a silent monitor is
// itself an alert signal for operators.
func (l *Loop) runCycle(ctx context.Context, driver PortalDriver, checker Checker) (CycleRecord, error) {
	timer := utils.NewTimer("monitor_cycle", l.log)
	defer timer.Stop()

	rec := CycleRecord{
		ID:        history.NewCycleID(),
		StartedAt: l.now(),
		Heartbeat: l.now().Minute() == l.cfg.HeartbeatMinute,
	}
	l.setState(StateChecking)
	l.st.update(func(s *Status) { s.CurrentCycle = rec.ID })
	l.bus.Publish(events.TypeCycleStarted, map[string]interface{}{
		"cycle_id":  rec.ID,
		"heartbeat": rec.Heartbeat,
	})
	l.log.Info().Str("cycle_id", rec.ID).Bool("heartbeat", rec.Heartbeat).Msg("Cycle started")

	passes := 1
	if rec.Heartbeat {
		passes = 2
	}

	var result *checkResult
	for i := 0; i < passes; i++ {
		l.passInfo(ctx, "▶️ Starting payment portal validation")

		var err error
		result, err = l.checkOnce(ctx, driver, checker)
		if err != nil {
			rec.FinishedAt = l.now()
			rec.Outcome = history.OutcomeError
			rec.Err = err.Error()
			return rec, err
		}

		l.notifyResult(ctx, result)
		l.passInfo(ctx, "⏹️ Payment portal validation finished")
	}

	rec.FinishedAt = l.now()
	rec.RecordCount = result.records
	rec.Rows = result.rows

	switch {
	case result.empty:
		rec.Outcome = history.OutcomeIssues
	case result.validation.HasIssues():
		rec.Outcome = history.OutcomeIssues
		rec.Findings = append(result.validation.FailureRatio, result.validation.Aging...)
	default:
		rec.Outcome = history.OutcomeClean
	}

	if rec.Heartbeat {
		l.heartbeat(ctx, rec)
	}

	if n, err := l.shots.Sweep(l.cfg.ScreenshotRetention); err != nil {
		l.log.Warn().Err(err).Msg("Screenshot sweep failed")
	} else if n > 0 {
		l.log.Debug().Int("removed", n).Msg("Swept expired screenshots")
	}

	l.st.update(func(s *Status) {
		s.LastCycleAt = rec.FinishedAt
		s.CyclesRun++
		s.IssuesFound += int64(len(rec.Findings))
		s.CurrentCycle = ""
	})
	l.bus.Publish(events.TypeCycleCompleted, map[string]interface{}{
		"cycle_id": rec.ID,
		"outcome":  rec.Outcome,
		"records":  rec.RecordCount,
		"issues":   len(rec.Findings),
	})
	l.log.Info().
		Str("cycle_id", rec.ID).
		Str("outcome", rec.Outcome).
		Int("records", rec.RecordCount).
		Int("issues", len(rec.Findings)).
		Msg("Cycle completed")
	return rec, nil
}

// checkResult is one extract+validate pass.
type checkResult struct {
	rows        []portal.ReportRow
	records     int
	screenshots []string
	validation  *validation.Result
	empty       bool
}

// checkOnce reloads the session, opens the primary report, extracts it and
// validates the rows.
func (l *Loop) checkOnce(ctx context.Context, driver PortalDriver, checker Checker) (*checkResult, error) {
	if err := driver.KeepAlive(ctx); err != nil {
		return nil, fmt.Errorf("keepalive failed: %w", err)
	}
	if err := driver.OpenPrimary(ctx); err != nil {
		return nil, fmt.Errorf("open report failed: %w", err)
	}

	res, err := driver.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract failed: %w", err)
	}

	vres, err := checker.Validate(ctx, res.Rows)
	if errors.Is(err, validation.ErrEmptyReport) {
		return &checkResult{records: res.TotalRecords, empty: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &checkResult{
		rows:        res.Rows,
		records:     res.TotalRecords,
		screenshots: res.Screenshots,
		validation:  vres,
	}, nil
}

// notifyResult delivers one pass's outcome, screenshots attached. Issues and
// empty reports always go out; the all-clear message only when
// NotifyEveryPass is set.
func (l *Loop) notifyResult(ctx context.Context, result *checkResult) {
	switch {
	case result.empty:
		l.alert(ctx, "⚠️ State report returned no rows during operating hours", nil)
	case result.validation.HasIssues():
		l.alert(ctx, result.validation.Message(), result.screenshots)
	case l.cfg.NotifyEveryPass:
		if err := l.alerter.Alert(ctx, result.validation.Message(), result.screenshots); err != nil {
			l.log.Error().Err(err).Msg("All-clear notification failed")
		}
	}
}

// passInfo sends the per-pass start/finish chat messages when configured.
func (l *Loop) passInfo(ctx context.Context, text string) {
	if !l.cfg.NotifyEveryPass {
		return
	}
	if err := l.alerter.Info(ctx, text); err != nil {
		l.log.Warn().Err(err).Msg("Pass notification failed")
	}
}

// heartbeat sends the periodic alive message after the double check passed.
func (l *Loop) heartbeat(ctx context.Context, rec CycleRecord) {
	text := fmt.Sprintf("✅ Monitor alive: %d records checked, %d issue(s) this cycle",
		rec.RecordCount, len(rec.Findings))
	if err := l.alerter.Info(ctx, text); err != nil {
		l.log.Warn().Err(err).Msg("Heartbeat notification failed")
	}
	l.st.update(func(s *Status) { s.HeartbeatLast = l.now() })
}

// reportFailure captures evidence of the broken state and tells operators a
// session restart is underway.
func (l *Loop) reportFailure(ctx context.Context, driver PortalDriver, err error) {
	l.noteError(err)

	var shots []string
	if path := driver.CaptureError(ctx, l.shots.ErrorPath("monitor")); path != "" {
		shots = append(shots, path)
	}
	text := fmt.Sprintf("⚠️ Monitor cycle failed: %v\nRestarting portal session.", err)
	l.alert(ctx, text, shots)
}

func (l *Loop) alert(ctx context.Context, text string, shots []string) {
	l.bus.Publish(events.TypeIssuesFound, map[string]string{"message": text})
	if err := l.alerter.Alert(ctx, text, shots); err != nil {
		l.log.Error().Err(err).Msg("Alert delivery failed for all recipients")
	}
}

func (l *Loop) record(rec CycleRecord) {
	if l.recorder == nil {
		return
	}
	// History writes survive shutdown; they get their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := l.recorder.Record(ctx, rec); err != nil {
		l.log.Error().Err(err).Str("cycle_id", rec.ID).Msg("Could not persist cycle history")
	}
}

func (l *Loop) setState(s State) {
	l.st.update(func(st *Status) { st.State = s })
	l.bus.Publish(events.TypeStateChanged, map[string]string{"state": string(s)})
}

func (l *Loop) noteError(err error) {
	l.st.update(func(s *Status) {
		s.LastError = err.Error()
		s.LastErrorAt = l.now()
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
