package portal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
)

// Navigator opens named report views through the portal's expandable menu.
type Navigator struct {
	auto browser.Automator
	cfg  config.PortalConfig
	log  zerolog.Logger
}

func NewNavigator(auto browser.Automator, cfg config.PortalConfig, log zerolog.Logger) *Navigator {
	return &Navigator{
		auto: auto,
		cfg:  cfg,
		log:  log.With().Str("component", "navigator").Logger(),
	}
}

// Open navigates to the report registered under name. The menu is only
// clicked when it is not already expanded; re-clicking an open menu collapses
// it and hides the option.
func (n *Navigator) Open(ctx context.Context, name string) error {
	view, ok := n.cfg.Reports[name]
	if !ok {
		return &NavigationError{Report: name, Err: fmt.Errorf("no such report view configured")}
	}

	n.log.Info().Str("report", name).Msg("Opening report")

	open, err := n.auto.HasClass(ctx, view.MenuSelector, view.MenuOpenClass)
	if err != nil {
		return &NavigationError{Report: name, Err: err}
	}
	if !open {
		if err := n.auto.ClickFirstVisible(ctx, view.MenuSelector, n.cfg.WaitTimeout); err != nil {
			return &NavigationError{Report: name, Err: err}
		}
	}

	if err := n.auto.ClickFirstVisible(ctx, view.OptionSelector, n.cfg.WaitTimeout); err != nil {
		return &NavigationError{Report: name, Err: err}
	}

	if err := n.auto.WaitURLContains(ctx, view.URLPattern, n.cfg.WaitTimeout); err != nil {
		return &NavigationError{Report: name, Err: err}
	}

	// The view keeps rendering after the URL settles.
	if err := settle(ctx, view.SettleDelay); err != nil {
		return err
	}
	if view.ReadyMarker != "" && !n.auto.WaitVisible(ctx, view.ReadyMarker, n.cfg.WaitTimeout) {
		return &NavigationError{
			Report: name,
			Err:    fmt.Errorf("ready marker %q never became visible", view.ReadyMarker),
		}
	}

	return nil
}
