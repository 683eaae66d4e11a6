package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/config"
)

// Drilldown answers "when did this merchant's newest transaction in a given
// state happen" by querying the by-date report with merchant and state
// filters. Paging mechanics stay here; interpreting the row is the
// validator's business.
type Drilldown struct {
	nav  *Navigator
	ext  *Extractor
	cfg  config.PortalConfig
	log  zerolog.Logger
	open bool
}

func NewDrilldown(nav *Navigator, ext *Extractor, cfg config.PortalConfig, log zerolog.Logger) *Drilldown {
	return &Drilldown{
		nav: nav,
		ext: ext,
		cfg: cfg,
		log: log.With().Str("component", "drilldown").Logger(),
	}
}

// Reset forgets the cached view state. Call after any navigation away from
// the by-date report, e.g. when a new cycle reloads the primary report.
func (d *Drilldown) Reset() { d.open = false }

// LastRow filters the by-date report to one merchant and state and returns
// the chronologically newest row's cells plus the total record count. A zero
// record count returns (nil, 0, nil): no transactions in that state.
func (d *Drilldown) LastRow(ctx context.Context, merchant, state string) ([]string, int, error) {
	if !d.open {
		if err := d.nav.Open(ctx, d.cfg.DrilldownReport); err != nil {
			return nil, 0, err
		}
		d.open = true
	}

	if err := d.ext.SelectFilter(ctx, d.cfg.MerchantDropdown, d.cfg.MerchantOptionFmt, strings.ToUpper(merchant)); err != nil {
		return nil, 0, fmt.Errorf("filter merchant %q: %w", merchant, err)
	}
	if err := d.ext.SelectFilter(ctx, d.cfg.StateDropdown, d.cfg.StateOptionFmt, state); err != nil {
		return nil, 0, fmt.Errorf("filter state %q: %w", state, err)
	}

	if err := d.ext.RunQuery(ctx); err != nil {
		return nil, 0, err
	}
	records, err := d.ext.RecordCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	if records == 0 {
		return nil, 0, nil
	}

	rows, err := d.ext.CurrentTable(ctx)
	if err != nil {
		return nil, 0, err
	}
	// The newest transaction sits on the last page when the total result
	// count spills past one page. The rendered page can hold fewer rows
	// than that, so the decision keys on the paginator count.
	if records > d.cfg.LastPageThreshold {
		if err := d.ext.JumpToLastPage(ctx); err != nil {
			return nil, 0, err
		}
		if rows, err = d.ext.CurrentTable(ctx); err != nil {
			return nil, 0, err
		}
	}
	if len(rows) == 0 {
		return nil, records, nil
	}
	return rows[len(rows)-1], records, nil
}
