package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpay/portalwatch/internal/browser"
	"github.com/ftpay/portalwatch/internal/config"
)

// fakeAutomator is a scripted browser.Automator. Fields configure the
// responses; clicks and navigations are recorded for assertions.
type fakeAutomator struct {
	currentURL    string
	navigateErr   error
	urlWaitErr    error
	visible       map[string]bool
	classes       map[string]bool // "selector class" -> present
	texts         map[string]string
	tables        [][][]string // consumed per ReadTable call
	pagerLinks    [][]browser.PagerLink
	selectErr     error
	screenshotErr error

	clicks      []string
	nthClicks   []int
	selects     []string
	screenshots []string
	zooms       []float64
	reloads     int
	closes      int
}

func (f *fakeAutomator) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.currentURL = url
	return nil
}

func (f *fakeAutomator) Reload(ctx context.Context, timeout time.Duration) error {
	f.reloads++
	return nil
}

func (f *fakeAutomator) CurrentURL(ctx context.Context) (string, error) {
	return f.currentURL, nil
}

func (f *fakeAutomator) WaitURLContains(ctx context.Context, pattern string, timeout time.Duration) error {
	return f.urlWaitErr
}

func (f *fakeAutomator) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	if f.visible == nil {
		return true
	}
	v, ok := f.visible[selector]
	return !ok || v
}

func (f *fakeAutomator) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeAutomator) ClickFirstVisible(ctx context.Context, selector string, timeout time.Duration) error {
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeAutomator) ClickNth(ctx context.Context, selector string, index int) error {
	f.nthClicks = append(f.nthClicks, index)
	return nil
}

func (f *fakeAutomator) Text(ctx context.Context, selector string) (string, error) {
	return f.texts[selector], nil
}

func (f *fakeAutomator) HasClass(ctx context.Context, selector, class string) (bool, error) {
	return f.classes[selector+" "+class], nil
}

func (f *fakeAutomator) SelectOption(ctx context.Context, selector, value string) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selects = append(f.selects, selector+"="+value)
	return nil
}

func (f *fakeAutomator) SetZoom(ctx context.Context, factor float64) error {
	f.zooms = append(f.zooms, factor)
	return nil
}

func (f *fakeAutomator) ElementScreenshot(ctx context.Context, selector, path string) error {
	if f.screenshotErr != nil {
		return f.screenshotErr
	}
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *fakeAutomator) FullScreenshot(ctx context.Context, path string) error {
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *fakeAutomator) ReadTable(ctx context.Context, selector string) ([][]string, error) {
	if len(f.tables) == 0 {
		return nil, nil
	}
	t := f.tables[0]
	f.tables = f.tables[1:]
	return t, nil
}

func (f *fakeAutomator) PagerLinks(ctx context.Context, selector string) ([]browser.PagerLink, error) {
	if len(f.pagerLinks) == 0 {
		return nil, nil
	}
	l := f.pagerLinks[0]
	f.pagerLinks = f.pagerLinks[1:]
	return l, nil
}

func (f *fakeAutomator) Close() error {
	f.closes++
	return nil
}

func testPortalConfig() config.PortalConfig {
	return config.PortalConfig{
		LoginURL:          "https://portal.example.com/login",
		LandingURLPattern: "/admin/home",
		LandingMarker:     "#dashboard",
		LoginTimeout:      time.Second,
		WaitTimeout:       time.Second,
		Reports: map[string]config.ReportView{
			"Monitoreo Por Estado": {
				MenuSelector:   "#menu-reports",
				MenuOpenClass:  "active-menu",
				OptionSelector: "#menu-reports .estado",
				URLPattern:     "/reports/estado",
				ReadyMarker:    "#report-form",
			},
			"Registros Por Fecha": {
				MenuSelector:   "#menu-reports",
				MenuOpenClass:  "active-menu",
				OptionSelector: "#menu-reports .fecha",
				URLPattern:     "/reports/fecha",
				ReadyMarker:    "#report-form",
			},
		},
		DrilldownReport:   "Registros Por Fecha",
		MerchantDropdown:  "#merchant-dropdown",
		MerchantOptionFmt: "[data-label='%s']",
		StateDropdown:     "#state-dropdown",
		StateOptionFmt:    "[data-label='%s']",
		LastPageThreshold: 7,
		SearchSelector:     "button span.fa-search",
		LoadingSelector:    "#loading",
		PaginatorSelector:  ".ui-paginator-current",
		PagerPagesSelector: ".ui-paginator-pages a",
		PagerActiveClass:   "ui-state-active",
		PagerLastSelector:  ".ui-paginator-last",
		PageSizeSelector:   "[name$='tableDetalle_rppDD']",
		TableSelector:      ".ui-datatable-tablewrapper table",
		PageSize:           2,
		ScreenshotZoom:     0.6,
	}
}

func TestSessionLoginSuccess(t *testing.T) {
	fake := &fakeAutomator{}
	s := NewSession(fake, testPortalConfig(), zerolog.Nop())

	err := s.Login(context.Background())
	require.NoError(t, err)
}

func TestSessionLoginRedirectFailure(t *testing.T) {
	fake := &fakeAutomator{urlWaitErr: errors.New("timed out")}
	s := NewSession(fake, testPortalConfig(), zerolog.Nop())

	err := s.Login(context.Background())
	require.Error(t, err)

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "redirect", loginErr.Stage)
}

func TestSessionLoginMarkerMissing(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{visible: map[string]bool{cfg.LandingMarker: false}}
	s := NewSession(fake, cfg, zerolog.Nop())

	err := s.Login(context.Background())

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "landing", loginErr.Stage)
}

func TestSessionKeepAliveDetectsExpiry(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{currentURL: cfg.LoginURL + "?expired=1"}
	s := NewSession(fake, cfg, zerolog.Nop())

	err := s.KeepAlive(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, fake.reloads)
}

func TestSessionKeepAliveHealthy(t *testing.T) {
	fake := &fakeAutomator{currentURL: "https://portal.example.com/admin/home"}
	s := NewSession(fake, testPortalConfig(), zerolog.Nop())

	assert.NoError(t, s.KeepAlive(context.Background()))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	fake := &fakeAutomator{}
	s := NewSession(fake, testPortalConfig(), zerolog.Nop())

	s.Close()
	s.Close()
	s.Close()
	assert.Equal(t, 1, fake.closes)
}

func TestNavigatorUnknownReport(t *testing.T) {
	n := NewNavigator(&fakeAutomator{}, testPortalConfig(), zerolog.Nop())

	err := n.Open(context.Background(), "No Existe")

	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "No Existe", navErr.Report)
}

func TestNavigatorSkipsMenuClickWhenOpen(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		classes: map[string]bool{"#menu-reports active-menu": true},
	}
	n := NewNavigator(fake, cfg, zerolog.Nop())

	require.NoError(t, n.Open(context.Background(), "Monitoreo Por Estado"))
	// Only the option was clicked, not the already-expanded menu.
	assert.Equal(t, []string{"#menu-reports .estado"}, fake.clicks)
}

func TestNavigatorOpensCollapsedMenu(t *testing.T) {
	fake := &fakeAutomator{}
	n := NewNavigator(fake, testPortalConfig(), zerolog.Nop())

	require.NoError(t, n.Open(context.Background(), "Monitoreo Por Estado"))
	assert.Equal(t, []string{"#menu-reports", "#menu-reports .estado"}, fake.clicks)
}

func TestExtractorEmptyReport(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(0 registros)"},
	}
	e := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())

	res, err := e.Extract(context.Background(), "estado")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.TotalRecords)
}

func TestExtractorUnparsablePaginatorDegradesToEmpty(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "sin resultados"},
	}
	e := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())

	res, err := e.Extract(context.Background(), "estado")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestExtractorPagesThroughReport(t *testing.T) {
	cfg := testPortalConfig() // page size 2
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(1-2 de 3) (3 registros)"},
		pagerLinks: [][]browser.PagerLink{
			{{Text: "1", Classes: "ui-state-active"}, {Text: "2"}},
			{{Text: "1", Classes: "ui-state-active"}, {Text: "2"}}, // stale: corrective click needed
			{{Text: "1"}, {Text: "2", Classes: "ui-state-active"}},
		},
		tables: [][][]string{
			{
				{"CAFAM", "2026-08-30", "10", "1", "0", "0", "0", "2", "0", "09:15:01 a.m."},
				{"COOMEVA", "2026-08-30", "5", "0", "0", "0", "0", "1", "0", "08:10:00 a.m."},
			},
			{
				{"BANCO POPULAR", "2026-08-30", "7", "2", "1", "0", "0", "0", "0", "07:00:00 a.m."},
			},
		},
	}
	e := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())

	res, err := e.Extract(context.Background(), "estado")
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalRecords)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "CAFAM", res.Rows[0][ColMerchant])
	assert.Equal(t, "BANCO POPULAR", res.Rows[2][ColMerchant])

	// Page size was applied and the stale pager forced one corrective click.
	assert.Equal(t, []string{cfg.PageSizeSelector + "=2"}, fake.selects)
	assert.Equal(t, []int{1}, fake.nthClicks)

	// One screenshot per page, captured zoomed out then restored.
	assert.Len(t, res.Screenshots, 2)
	assert.Equal(t, []float64{0.6, 1.0, 0.6, 1.0}, fake.zooms)
}

func TestExtractorPadsShortRows(t *testing.T) {
	cfg := testPortalConfig()
	cfg.PageSize = 22
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(1 registros)"},
		tables: [][][]string{
			{{"CAFAM", "2026-08-30", "10"}},
		},
	}
	e := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())

	res, err := e.Extract(context.Background(), "estado")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, "10", row[ColApproved])
	assert.Equal(t, "", row[ColLastReported])
	assert.Len(t, row, len(ReportColumns))
}

func TestPageCount(t *testing.T) {
	cases := []struct {
		records int
		pages   int
	}{
		{0, 0},
		{1, 1},
		{22, 1},
		{23, 2},
		{44, 2},
		{45, 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.pages, pageCount(c.records, 22), "records=%d", c.records)
	}
}

func newTestDrilldown(t *testing.T, fake *fakeAutomator) *Drilldown {
	t.Helper()
	cfg := testPortalConfig()
	nav := NewNavigator(fake, cfg, zerolog.Nop())
	ext := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())
	return NewDrilldown(nav, ext, cfg, zerolog.Nop())
}

func TestDrilldownLastRowJumpsWhenRecordsExceedOnePage(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(1-7 de 20) (20 registros)"},
		tables: [][][]string{
			{
				{"1", "CAFAM", "REDIMIDA", "07:00:01 a.m."},
				{"2", "CAFAM", "REDIMIDA", "07:05:00 a.m."},
				{"3", "CAFAM", "REDIMIDA", "07:10:00 a.m."},
				{"4", "CAFAM", "REDIMIDA", "07:15:00 a.m."},
				{"5", "CAFAM", "REDIMIDA", "07:20:00 a.m."},
				{"6", "CAFAM", "REDIMIDA", "07:25:00 a.m."},
				{"7", "CAFAM", "REDIMIDA", "07:30:00 a.m."},
			},
			{
				{"15", "CAFAM", "REDIMIDA", "09:40:00 a.m."},
				{"20", "CAFAM", "REDIMIDA", "09:55:12 a.m."},
			},
		},
	}
	d := newTestDrilldown(t, fake)

	cells, records, err := d.LastRow(context.Background(), "Cafam", "REDIMIDA")
	require.NoError(t, err)

	// Only seven rows render on the first page, but twenty records means the
	// newest one lives on the last page.
	assert.Equal(t, 20, records)
	assert.Equal(t, []string{"20", "CAFAM", "REDIMIDA", "09:55:12 a.m."}, cells)
	assert.Contains(t, fake.clicks, cfg.PagerLastSelector)

	// The merchant filter option carries the upper-cased name.
	assert.Contains(t, fake.clicks, "[data-label='CAFAM']")
}

func TestDrilldownLastRowStaysOnSinglePage(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(1-5 de 5) (5 registros)"},
		tables: [][][]string{
			{
				{"1", "CAFAM", "REDIMIDA", "07:00:01 a.m."},
				{"2", "CAFAM", "REDIMIDA", "07:05:00 a.m."},
				{"3", "CAFAM", "REDIMIDA", "07:10:00 a.m."},
				{"4", "CAFAM", "REDIMIDA", "07:15:00 a.m."},
				{"5", "CAFAM", "REDIMIDA", "08:30:00 a.m."},
			},
		},
	}
	d := newTestDrilldown(t, fake)

	cells, records, err := d.LastRow(context.Background(), "Cafam", "REDIMIDA")
	require.NoError(t, err)

	assert.Equal(t, 5, records)
	assert.Equal(t, []string{"5", "CAFAM", "REDIMIDA", "08:30:00 a.m."}, cells)
	assert.NotContains(t, fake.clicks, cfg.PagerLastSelector)
}

func TestDrilldownLastRowEmptyResult(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(0 registros)"},
	}
	d := newTestDrilldown(t, fake)

	cells, records, err := d.LastRow(context.Background(), "Cafam", "ANULADA")
	require.NoError(t, err)
	assert.Nil(t, cells)
	assert.Zero(t, records)
}

func TestDrilldownOpensReportOnce(t *testing.T) {
	cfg := testPortalConfig()
	fake := &fakeAutomator{
		texts: map[string]string{cfg.PaginatorSelector: "(0 registros)"},
	}
	d := newTestDrilldown(t, fake)

	_, _, err := d.LastRow(context.Background(), "Cafam", "ANULADA")
	require.NoError(t, err)
	_, _, err = d.LastRow(context.Background(), "Coomeva", "ANULADA")
	require.NoError(t, err)

	var opens int
	for _, c := range fake.clicks {
		if c == cfg.Reports[cfg.DrilldownReport].OptionSelector {
			opens++
		}
	}
	assert.Equal(t, 1, opens)
}

func TestExtractorScreenshotFailureKeepsRows(t *testing.T) {
	cfg := testPortalConfig()
	cfg.PageSize = 22
	fake := &fakeAutomator{
		texts:         map[string]string{cfg.PaginatorSelector: "(1 registros)"},
		screenshotErr: errors.New("screenshot failed"),
		tables: [][][]string{
			{{"CAFAM", "2026-08-30", "10", "1", "0", "0", "0", "2", "0", "09:15:01 a.m."}},
		},
	}
	e := NewExtractor(fake, cfg, t.TempDir(), zerolog.Nop())

	res, err := e.Extract(context.Background(), "estado")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
	assert.Empty(t, res.Screenshots)
	// Zoom restored despite the failed capture.
	assert.Equal(t, []float64{0.6, 1.0}, fake.zooms)
}
