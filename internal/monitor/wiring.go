package monitor

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/artifacts"
	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/history"
	"github.com/ftpay/portalwatch/internal/portal"
	"github.com/ftpay/portalwatch/internal/validation"
)

// NewChromeSessionFactory builds sessions backed by a freshly launched
// browser. Each call launches its own browser process, so a wedged renderer
// never outlives the session that owned it.
func NewChromeSessionFactory(cfg *config.Config, store *artifacts.Store, log zerolog.Logger) SessionFactory {
	return func(ctx context.Context) (PortalDriver, Checker, error) {
		chrome, err := browser.NewChrome(browser.Options{Headless: cfg.Headless}, log)
		if err != nil {
			return nil, nil, err
		}

		sess := portal.NewSession(chrome, cfg.Portal, log)
		nav := portal.NewNavigator(chrome, cfg.Portal, log)
		ext := portal.NewExtractor(chrome, cfg.Portal, store.Dir(), log)
		drill := portal.NewDrilldown(nav, ext, cfg.Portal, log)

		driver := &chromeDriver{
			sess:  sess,
			nav:   nav,
			ext:   ext,
			drill: drill,
			cfg:   cfg.Portal,
		}
		checker := validation.NewValidator(cfg.Validation, cfg.Portal.ElapsedTimeColumn, drill, log)
		return driver, checker, nil
	}
}

// chromeDriver binds the portal layers of one session into the loop's driver
// surface.
type chromeDriver struct {
	sess  *portal.Session
	nav   *portal.Navigator
	ext   *portal.Extractor
	drill *portal.Drilldown
	cfg   config.PortalConfig
}

func (d *chromeDriver) Login(ctx context.Context) error {
	return d.sess.Login(ctx)
}

func (d *chromeDriver) KeepAlive(ctx context.Context) error {
	// A reload lands wherever the portal wants, so the drill-down's cached
	// view state is stale either way.
	d.drill.Reset()
	return d.sess.KeepAlive(ctx)
}

func (d *chromeDriver) OpenPrimary(ctx context.Context) error {
	d.drill.Reset()
	return d.nav.Open(ctx, d.cfg.PrimaryReport)
}

func (d *chromeDriver) Extract(ctx context.Context) (*portal.ExtractionResult, error) {
	prefix := strings.ToLower(strings.ReplaceAll(d.cfg.PrimaryReport, " ", "_"))
	return d.ext.Extract(ctx, prefix)
}

func (d *chromeDriver) CaptureError(ctx context.Context, path string) string {
	return d.sess.CaptureError(ctx, path)
}

func (d *chromeDriver) Close() {
	d.sess.Close()
}

// HistoryRecorder adapts the history repository to the loop's recorder
// surface.
type HistoryRecorder struct {
	Repo *history.Repository
}

func (r *HistoryRecorder) Record(ctx context.Context, rec CycleRecord) error {
	c := history.Cycle{
		ID:          rec.ID,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Outcome:     rec.Outcome,
		RecordCount: rec.RecordCount,
		Heartbeat:   rec.Heartbeat,
		Error:       rec.Err,
	}
	return r.Repo.RecordCycle(ctx, c, rec.Findings, rec.Rows)
}
