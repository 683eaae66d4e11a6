package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ftpay/portalwatch/internal/database"
)

// SystemHandlers serves host-level health: CPU, memory, uptime, database and
// screenshot disk usage.
type SystemHandlers struct {
	db      *database.DB
	shotDir string
	log     zerolog.Logger
}

func NewSystemHandlers(db *database.DB, shotDir string, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:      db,
		shotDir: shotDir,
		log:     log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemResponse is the /api/system payload.
type SystemResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemPercent      float64 `json:"mem_percent"`
	MemUsedMB       uint64  `json:"mem_used_mb"`
	UptimeHours     float64 `json:"uptime_hours"`
	DatabaseSizeMB  float64 `json:"database_size_mb"`
	WALSizeMB       float64 `json:"wal_size_mb"`
	ScreenshotCount int     `json:"screenshot_count"`
	ScreenshotMB    float64 `json:"screenshot_mb"`
}

// HandleSystem reports host and storage statistics.
func (h *SystemHandlers) HandleSystem(w http.ResponseWriter, r *http.Request) {
	resp := SystemResponse{}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemPercent = vm.UsedPercent
		resp.MemUsedMB = vm.Used / 1024 / 1024
	}
	if up, err := host.Uptime(); err == nil {
		resp.UptimeHours = float64(up) / 3600
	}

	if h.db != nil {
		if stats, err := h.db.GetStats(); err == nil {
			resp.DatabaseSizeMB = float64(stats.SizeBytes) / 1024 / 1024
			resp.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
		}
	}

	resp.ScreenshotCount, resp.ScreenshotMB = h.screenshotUsage()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system response")
	}
}

func (h *SystemHandlers) screenshotUsage() (int, float64) {
	entries, err := os.ReadDir(h.shotDir)
	if err != nil {
		return 0, 0
	}

	count := 0
	var bytes int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".png" {
			continue
		}
		count++
		if info, err := entry.Info(); err == nil {
			bytes += info.Size()
		}
	}
	return count, float64(bytes) / 1024 / 1024
}
