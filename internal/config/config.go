// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ftpay/portalwatch/internal/utils"
	"github.com/joho/godotenv"
)

// ReportView describes how to reach one report inside the portal:
// the menu entry to open, the option to click, and the URL/marker pair
// that confirm the view finished loading.
type ReportView struct {
	MenuSelector   string // reports menu entry (carries the open-state class when expanded)
	MenuOpenClass  string // CSS class present on MenuSelector when the menu is already open
	OptionSelector string // the specific report option inside the menu
	URLPattern     string // substring the page URL must contain after navigation
	ReadyMarker    string // element that must be visible before the view is usable
	SettleDelay    time.Duration
}

// PortalConfig groups everything needed to drive the portal UI.
// Selector strings are configuration, not code: the core logic never
// hardcodes them.
type PortalConfig struct {
	LoginURL          string
	LandingURLPattern string
	LandingMarker     string
	LoginTimeout      time.Duration
	WaitTimeout       time.Duration

	Reports         map[string]ReportView
	PrimaryReport   string // consolidated state-monitoring report
	DrilldownReport string // "by date" report used by the aging rule

	// Extraction
	SearchSelector     string
	LoadingSelector    string
	PaginatorSelector  string
	PagerPagesSelector string
	PagerActiveClass   string
	PagerLastSelector  string
	PageSizeSelector   string
	TableSelector      string
	PageSize           int
	ScreenshotZoom     float64

	// Drill-down filters
	MerchantDropdown  string
	MerchantOptionFmt string // fmt pattern receiving the upper-cased merchant name
	StateDropdown     string
	StateOptionFmt    string // fmt pattern receiving the mapped state label
	ElapsedTimeColumn int
	LastPageThreshold int
}

// ValidationConfig holds the business-rule thresholds and exemptions.
type ValidationConfig struct {
	// IgnoreMerchants maps rule name -> merchants exempt from that rule.
	IgnoreMerchants map[string][]string

	// Failure-ratio rule. The two comparisons are independently
	// configurable because observed portal variants disagree on whether
	// rejected counts participate.
	CheckFailed   bool
	CheckRejected bool

	// Aging rule.
	AgingThreshold time.Duration
	// FlagOnUnreadableTime keeps the fail-safe behaviour of flagging a
	// merchant when no elapsed-time value can be read at all. Tunable
	// because it trades false positives for missed alerts.
	FlagOnUnreadableTime bool
	// StateFilters maps report column names to the drill-down report's
	// state filter vocabulary.
	StateFilters map[string]string
}

// Config holds application configuration.
type Config struct {
	DataDir       string // base directory for the history database and artifacts
	ScreenshotDir string
	LogLevel      string
	Port          int // status API port, 0 disables the server
	DevMode       bool
	Headless      bool

	Portal     PortalConfig
	Validation ValidationConfig

	// Monitor loop
	CycleInterval   time.Duration
	HeartbeatMinute int // minute-of-hour that triggers the double validation pass
	// NotifyEveryPass sends the start/finish messages and the all-clear
	// result around every validation pass. Issues and failures always
	// notify; turning this off only quiets clean passes.
	NotifyEveryPass     bool
	ScreenshotRetention time.Duration
	HistoryRetention    time.Duration

	// Notifications
	TelegramToken string
	Recipients    []string

	// Optional S3-compatible archive of screenshot evidence
	Archive ArchiveConfig
}

// ArchiveConfig holds the optional S3 archive settings.
type ArchiveConfig struct {
	Enabled       bool
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PORTALWATCH_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	screenshotDir := getEnv("PORTALWATCH_SCREENSHOT_DIR", filepath.Join(absDataDir, "screenshots"))
	if err := os.MkdirAll(screenshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		ScreenshotDir: screenshotDir,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("PORTALWATCH_PORT", 8090),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Headless:      getEnvAsBool("PORTALWATCH_HEADLESS", true),

		Portal:     loadPortalConfig(),
		Validation: loadValidationConfig(),

		CycleInterval:       getEnvAsDuration("PORTALWATCH_CYCLE_INTERVAL", 50*time.Second),
		HeartbeatMinute:     getEnvAsInt("PORTALWATCH_HEARTBEAT_MINUTE", 1),
		NotifyEveryPass:     getEnvAsBool("PORTALWATCH_NOTIFY_EVERY_PASS", true),
		ScreenshotRetention: getEnvAsDuration("PORTALWATCH_SCREENSHOT_RETENTION", 24*time.Hour),
		HistoryRetention:    getEnvAsDuration("PORTALWATCH_HISTORY_RETENTION", 30*24*time.Hour),

		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		Recipients:    utils.ParseCSV(getEnv("TELEGRAM_CHAT_IDS", "")),

		Archive: ArchiveConfig{
			Enabled:       getEnvAsBool("ARCHIVE_ENABLED", false),
			Endpoint:      getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Bucket:        getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKey:     getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("ARCHIVE_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPortalConfig builds the portal UI map. Defaults mirror the
// FTAdmon portal layout; the URLs and query behaviour can be overridden
// via environment for staging portals.
func loadPortalConfig() PortalConfig {
	baseURL := getEnv("PORTAL_BASE_URL", "https://ftpayment.co/FTAdmon_Payment-web")

	return PortalConfig{
		LoginURL:          getEnv("PORTAL_LOGIN_URL", baseURL+"/login.xhtml"),
		LandingURLPattern: getEnv("PORTAL_LANDING_URL", baseURL+"/pages/index.xhtml"),
		LandingMarker:     getEnv("PORTAL_LANDING_MARKER", ".ui-panel-content h1"),
		LoginTimeout:      getEnvAsDuration("PORTAL_LOGIN_TIMEOUT", 60*time.Second),
		WaitTimeout:       getEnvAsDuration("PORTAL_WAIT_TIMEOUT", 30*time.Second),

		Reports: map[string]ReportView{
			"Monitoreo Por Estado": {
				MenuSelector:   "li[id$='pm_consulta'] a",
				MenuOpenClass:  "active-menu",
				OptionSelector: "li[id$='pm_consulta_admon_01'] a",
				URLPattern:     "consultaConsolidada01.xhtml",
				ReadyMarker:    ".BigTopic",
				SettleDelay:    5 * time.Second,
			},
			"Registros Por Fecha": {
				MenuSelector:   "li[id$='pm_consulta'] a",
				MenuOpenClass:  "active-menu",
				OptionSelector: "li[id$='pm_consulta_admon_02'] a",
				URLPattern:     "consultaRegistrosFecha.xhtml",
				ReadyMarker:    ".BigTopic",
				SettleDelay:    5 * time.Second,
			},
		},
		PrimaryReport:   "Monitoreo Por Estado",
		DrilldownReport: "Registros Por Fecha",

		SearchSelector:     "button span.fa-search",
		LoadingSelector:    "div img[src*='preloader.gif.xhtml']",
		PaginatorSelector:  ".ui-paginator-current",
		PagerPagesSelector: ".ui-paginator-pages a",
		PagerActiveClass:   "ui-state-active",
		PagerLastSelector:  ".ui-paginator-last[aria-label='Last Page']",
		PageSizeSelector:   "[name$='tableDetalle_rppDD']",
		TableSelector:      ".ui-datatable-tablewrapper table",
		PageSize:           getEnvAsInt("PORTAL_PAGE_SIZE", 22),
		ScreenshotZoom:     0.6,

		MerchantDropdown:  "[id$='form:txtComercio_label']",
		MerchantOptionFmt: "[data-label='%s']",
		StateDropdown:     "[id$='form:txtEstado_label']",
		StateOptionFmt:    "[data-label='%s']",
		ElapsedTimeColumn: 10,
		LastPageThreshold: 7,
	}
}

func loadValidationConfig() ValidationConfig {
	return ValidationConfig{
		IgnoreMerchants: map[string][]string{
			"failure_ratio": utils.ParseCSV(getEnv("IGNORE_MERCHANTS_FAILURE_RATIO", "CAFAM")),
			"aging":         utils.ParseCSV(getEnv("IGNORE_MERCHANTS_AGING", "")),
		},
		CheckFailed:          getEnvAsBool("VALIDATE_FAILED_RATIO", true),
		CheckRejected:        getEnvAsBool("VALIDATE_REJECTED_RATIO", true),
		AgingThreshold:       getEnvAsDuration("AGING_THRESHOLD", 60*time.Minute),
		FlagOnUnreadableTime: getEnvAsBool("AGING_FLAG_ON_UNREADABLE_TIME", true),
		StateFilters: map[string]string{
			"# No Finales":     "NO FINALES",
			"# No Finales EF":  "NO FINALES EFE",
			"# No Reportaadas": "NO REPORTADO",
		},
	}
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.Portal.LoginURL == "" {
		return fmt.Errorf("portal login URL is required")
	}
	if c.Portal.PageSize <= 0 {
		return fmt.Errorf("portal page size must be positive, got %d", c.Portal.PageSize)
	}
	if _, ok := c.Portal.Reports[c.Portal.PrimaryReport]; !ok {
		return fmt.Errorf("primary report %q is not defined in the report map", c.Portal.PrimaryReport)
	}
	if _, ok := c.Portal.Reports[c.Portal.DrilldownReport]; !ok {
		return fmt.Errorf("drill-down report %q is not defined in the report map", c.Portal.DrilldownReport)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive")
	}
	if c.HeartbeatMinute < 0 || c.HeartbeatMinute > 59 {
		return fmt.Errorf("heartbeat minute must be in [0,59], got %d", c.HeartbeatMinute)
	}
	if c.TelegramToken != "" && len(c.Recipients) == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_IDS is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" || c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return fmt.Errorf("archive is enabled but bucket or credentials are missing")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are treated as seconds
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
