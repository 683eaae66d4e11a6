package portal

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/utils"
)

// recordCountRe matches the paginator summary, e.g. "(1-22 de 64) (64 registros)".
var recordCountRe = regexp.MustCompile(`\((\d+)\s+registros\)`)

// Extractor pages through a report table and pulls every row, capturing a
// screenshot of each page as evidence before reading it.
type Extractor struct {
	auto    browser.Automator
	cfg     config.PortalConfig
	shotDir string
	log     zerolog.Logger
}

func NewExtractor(auto browser.Automator, cfg config.PortalConfig, screenshotDir string, log zerolog.Logger) *Extractor {
	return &Extractor{
		auto:    auto,
		cfg:     cfg,
		shotDir: screenshotDir,
		log:     log.With().Str("component", "extractor").Logger(),
	}
}

// RunQuery submits the report's search form and waits for the resulting AJAX
// refresh to finish.
func (e *Extractor) RunQuery(ctx context.Context) error {
	if err := e.auto.ClickFirstVisible(ctx, e.cfg.SearchSelector, e.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	return e.waitLoaded(ctx)
}

// waitLoaded gives the portal a beat to show its loading indicator, then
// waits for the indicator to go away. The initial pause matters: checking too
// early sees the indicator still hidden and reads a half-refreshed table.
func (e *Extractor) waitLoaded(ctx context.Context) error {
	if err := browser.Sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	if err := e.auto.WaitHidden(ctx, e.cfg.LoadingSelector, e.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("report still loading: %w", err)
	}
	return nil
}

// RecordCount reads the paginator summary and returns the total record count.
// Summary text that does not match the expected shape degrades to zero with a
// warning instead of failing the cycle.
func (e *Extractor) RecordCount(ctx context.Context) (int, error) {
	text, err := e.auto.Text(ctx, e.cfg.PaginatorSelector)
	if err != nil {
		return 0, fmt.Errorf("read paginator: %w", err)
	}

	m := recordCountRe.FindStringSubmatch(text)
	if m == nil {
		e.log.Warn().Err(&ParseError{Text: text}).Msg("Could not parse record count, treating report as empty")
		return 0, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Extract runs the report query and pages through every result page,
// returning all rows plus the per-page screenshots. Screenshots are taken
// before each page is read so evidence survives even when row parsing fails.
// A report with zero records yields an empty result, not an error; deciding
// whether emptiness is a problem belongs to validation.
func (e *Extractor) Extract(ctx context.Context, shotPrefix string) (*ExtractionResult, error) {
	timer := utils.NewTimer("report_extraction", e.log)
	defer timer.Stop()

	if err := e.RunQuery(ctx); err != nil {
		return nil, err
	}

	total, err := e.RecordCount(ctx)
	if err != nil {
		return nil, err
	}

	result := &ExtractionResult{TotalRecords: total}
	if total == 0 {
		e.log.Info().Msg("Report returned no records")
		return result, nil
	}

	if err := e.auto.SelectOption(ctx, e.cfg.PageSizeSelector, strconv.Itoa(e.cfg.PageSize)); err != nil {
		return nil, fmt.Errorf("set page size: %w", err)
	}
	if err := e.waitLoaded(ctx); err != nil {
		return nil, err
	}

	pages := pageCount(total, e.cfg.PageSize)
	e.log.Info().Int("records", total).Int("pages", pages).Msg("Extracting report")

	for page := 0; page < pages; page++ {
		if err := e.ensureOnPage(ctx, page); err != nil {
			return nil, err
		}

		shot, err := e.capturePage(ctx, shotPrefix, page)
		if err != nil {
			// Evidence capture is diagnostic, the rows still matter.
			e.log.Warn().Err(err).Int("page", page+1).Msg("Could not capture page screenshot")
		} else {
			result.Screenshots = append(result.Screenshots, shot)
		}

		rows, err := e.readRows(ctx)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", page+1, err)
		}
		result.Rows = append(result.Rows, rows...)
	}

	return result, nil
}

// pageCount returns how many result pages a record count fills.
func pageCount(records, pageSize int) int {
	if records <= 0 {
		return 0
	}
	return (records + pageSize - 1) / pageSize
}

// ensureOnPage verifies the paginator's active link matches the wanted page
// and issues a corrective click when it does not. Paging can silently stay
// put when a click lands during an AJAX refresh.
func (e *Extractor) ensureOnPage(ctx context.Context, page int) error {
	links, err := e.auto.PagerLinks(ctx, e.cfg.PagerPagesSelector)
	if err != nil {
		return fmt.Errorf("read pager: %w", err)
	}
	if len(links) == 0 {
		// Single-page report renders no pager links.
		return nil
	}

	active := -1
	for _, l := range links {
		if strings.Contains(l.Classes, e.cfg.PagerActiveClass) {
			if n, err := strconv.Atoi(strings.TrimSpace(l.Text)); err == nil {
				active = n
			}
			break
		}
	}
	if active == page+1 {
		return nil
	}

	if err := e.auto.ClickNth(ctx, e.cfg.PagerPagesSelector, page); err != nil {
		return fmt.Errorf("go to page %d: %w", page+1, err)
	}
	return e.waitLoaded(ctx)
}

// capturePage screenshots the result table zoomed out so wide tables fit the
// viewport. Zoom is restored before returning regardless of the outcome.
func (e *Extractor) capturePage(ctx context.Context, prefix string, page int) (string, error) {
	if err := e.auto.SetZoom(ctx, e.cfg.ScreenshotZoom); err != nil {
		return "", err
	}

	path := filepath.Join(e.shotDir, fmt.Sprintf("%s_page_%02d_%s.png",
		prefix, page+1, time.Now().Format("20060102_150405")))
	shotErr := e.auto.ElementScreenshot(ctx, e.cfg.TableSelector, path)

	if err := e.auto.SetZoom(ctx, 1.0); err != nil {
		e.log.Warn().Err(err).Msg("Could not restore page zoom")
	}
	if shotErr != nil {
		return "", shotErr
	}
	return path, nil
}

// readRows reads the current page's table and maps cells to named columns.
// Short rows are padded with empty strings so every row carries every column.
func (e *Extractor) readRows(ctx context.Context) ([]ReportRow, error) {
	cells, err := e.auto.ReadTable(ctx, e.cfg.TableSelector)
	if err != nil {
		return nil, err
	}

	rows := make([]ReportRow, 0, len(cells))
	for _, tr := range cells {
		row := make(ReportRow, len(ReportColumns))
		for i, col := range ReportColumns {
			if i < len(tr) {
				row[col] = strings.TrimSpace(tr[i])
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// JumpToLastPage clicks the paginator's last-page control and waits for the
// refresh. Used by the drill-down flow, which only cares about the newest
// transaction.
func (e *Extractor) JumpToLastPage(ctx context.Context) error {
	if err := e.auto.ClickFirstVisible(ctx, e.cfg.PagerLastSelector, e.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("jump to last page: %w", err)
	}
	return e.waitLoaded(ctx)
}

// CurrentTable returns the raw cell texts of the current result page. The
// drill-down report has its own column layout, so rows stay positional.
func (e *Extractor) CurrentTable(ctx context.Context) ([][]string, error) {
	return e.auto.ReadTable(ctx, e.cfg.TableSelector)
}

// SelectFilter picks a labelled option from one of the drill-down dropdowns:
// the dropdown is expanded, then the option matching the label pattern is
// clicked.
func (e *Extractor) SelectFilter(ctx context.Context, dropdown, optionFmt, label string) error {
	if err := e.auto.ClickFirstVisible(ctx, dropdown, e.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("open filter dropdown: %w", err)
	}
	option := fmt.Sprintf(optionFmt, label)
	if err := e.auto.ClickFirstVisible(ctx, option, e.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("pick filter option %q: %w", label, err)
	}
	return e.waitLoaded(ctx)
}
