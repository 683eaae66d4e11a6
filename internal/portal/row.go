// Package portal implements the stateful navigation, pagination and
// extraction layers for the payment-gateway administration portal: session
// lifecycle, report navigation and table extraction. It drives the portal
// exclusively through the browser.Automator capability.
package portal

// Column names of the state-monitoring report, in table order. The portal
// renders its headers in Spanish; the names are kept verbatim because the
// drill-down state filters are keyed by them.
const (
	ColMerchant     = "Comercio"
	ColDate         = "Fecha"
	ColApproved     = "# Aprobadas"
	ColRejected     = "# Rechazada"
	ColFailed       = "# Fallidas"
	ColPendingCash  = "# Pendiente EF"
	ColNonFinalCash = "# No Finales EF"
	ColNonFinal     = "# No Finales"
	ColUnreported   = "# No Reportaadas"
	ColLastReported = "Última Reportada"
)

// ReportColumns is the fixed column order of the state-monitoring report.
// Extraction maps cell index to column name through this slice; it must match
// the report's table layout.
var ReportColumns = []string{
	ColMerchant,
	ColDate,
	ColApproved,
	ColRejected,
	ColFailed,
	ColPendingCash,
	ColNonFinalCash,
	ColNonFinal,
	ColUnreported,
	ColLastReported,
}

// ReportRow maps column names to raw cell text. Values are trimmed but
// otherwise untouched; numeric fields keep their locale grouping separators
// until validation normalizes them. A row always carries a value for every
// declared column (missing cells become "").
type ReportRow map[string]string

// ExtractionResult is the outcome of paging through a full report: every row
// in page order plus the per-page table screenshots captured as evidence.
type ExtractionResult struct {
	Rows         []ReportRow
	Screenshots  []string
	TotalRecords int // record count the paginator reported when paging began
}
