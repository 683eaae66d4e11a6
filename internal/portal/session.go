package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
)

// Session owns the authenticated lifetime of one portal login: establishing
// it, checking it is still alive, and tearing the browser down exactly once.
type Session struct {
	auto      browser.Automator
	cfg       config.PortalConfig
	log       zerolog.Logger
	closeOnce sync.Once
}

// NewSession wraps an automator with the portal's login lifecycle.
func NewSession(auto browser.Automator, cfg config.PortalConfig, log zerolog.Logger) *Session {
	return &Session{
		auto: auto,
		cfg:  cfg,
		log:  log.With().Str("component", "session").Logger(),
	}
}

// Login navigates to the login page and waits for the authentication flow to
// land on the authenticated area. The flow may involve external redirects, so
// success is judged by the final URL plus a marker element, never by the
// intermediate pages.
func (s *Session) Login(ctx context.Context) error {
	s.log.Info().Str("url", s.cfg.LoginURL).Msg("Logging in to portal")

	if err := s.auto.Navigate(ctx, s.cfg.LoginURL, s.cfg.LoginTimeout); err != nil {
		return &LoginError{Stage: "navigate", Err: err}
	}

	if err := s.auto.WaitURLContains(ctx, s.cfg.LandingURLPattern, s.cfg.LoginTimeout); err != nil {
		return &LoginError{Stage: "redirect", Err: err}
	}

	if !s.auto.WaitVisible(ctx, s.cfg.LandingMarker, s.cfg.WaitTimeout) {
		return &LoginError{
			Stage: "landing",
			Err:   fmt.Errorf("marker %q never became visible", s.cfg.LandingMarker),
		}
	}

	s.log.Info().Msg("Login successful")
	return nil
}

// KeepAlive reloads the current page and checks the session survived. Landing
// back on the login page means the portal dropped the session, which is
// reported as ErrSessionExpired so the caller can re-run the full login.
func (s *Session) KeepAlive(ctx context.Context) error {
	if err := s.auto.Reload(ctx, s.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("keepalive reload: %w", err)
	}

	url, err := s.auto.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("keepalive url check: %w", err)
	}
	if strings.Contains(url, s.cfg.LoginURL) || !strings.Contains(url, s.cfg.LandingURLPattern) {
		s.log.Warn().Str("url", url).Msg("Session expired, portal redirected away from authenticated area")
		return ErrSessionExpired
	}
	return nil
}

// CaptureError takes a full-page screenshot as diagnostic evidence of the
// current portal state. Best effort: the returned path is empty on failure.
func (s *Session) CaptureError(ctx context.Context, path string) string {
	if err := s.auto.FullScreenshot(ctx, path); err != nil {
		s.log.Warn().Err(err).Msg("Could not capture error screenshot")
		return ""
	}
	return path
}

// Close releases the underlying browser. Subsequent calls are no-ops, so the
// shutdown path and the error path can both call it safely.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.auto.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Browser close reported an error")
		}
	})
}

// settle is a small helper for the fixed UI settle pauses the portal needs
// after AJAX-triggering interactions.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return browser.Sleep(ctx, d)
}
