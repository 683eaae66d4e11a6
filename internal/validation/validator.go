// Package validation applies the business rules that decide whether the
// state-monitoring report describes a healthy payment gateway: the
// failure-ratio rule over the consolidated counts, and the aging rule over
// the by-date drill-down.
package validation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/portal"
)

// ErrEmptyReport means the report produced zero rows. Extraction treats an
// empty report as a valid result; validation treats it as a monitoring
// failure, because the gateway always has traffic during operating hours.
var ErrEmptyReport = fmt.Errorf("report contains no rows")

// Drilldown resolves a merchant/state pair to the newest matching
// transaction row in the by-date report. records is the total match count; a
// zero count means no transactions in that state.
type Drilldown interface {
	LastRow(ctx context.Context, merchant, state string) (cells []string, records int, err error)
}

// Finding is one flagged merchant with the rule that tripped and a short
// human-readable detail for the notification message.
type Finding struct {
	Merchant string `json:"merchant"`
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
}

// Result groups the findings of one validation pass by rule.
type Result struct {
	FailureRatio []Finding `json:"failure_ratio"`
	Aging        []Finding `json:"aging"`
}

// HasIssues reports whether any rule flagged any merchant.
func (r *Result) HasIssues() bool {
	return len(r.FailureRatio) > 0 || len(r.Aging) > 0
}

// Merchants returns the distinct flagged merchant names, sorted.
func (r *Result) Merchants() []string {
	seen := make(map[string]struct{})
	for _, f := range r.FailureRatio {
		seen[f.Merchant] = struct{}{}
	}
	for _, f := range r.Aging {
		seen[f.Merchant] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Message renders the notification text for one validation pass. Both rule
// sections always appear: a clean rule renders a single all-clear line, a
// tripped rule renders a header plus one bullet per flagged merchant.
func (r *Result) Message() string {
	var b strings.Builder

	if len(r.FailureRatio) == 0 {
		b.WriteString("✅ No merchants with more failed/rejected than approved transactions.\n")
	} else {
		b.WriteString("❌ Merchants with more failed/rejected than approved transactions:\n")
		for _, f := range r.FailureRatio {
			fmt.Fprintf(&b, "  • %s (%s)\n", f.Merchant, f.Detail)
		}
	}

	if len(r.Aging) == 0 {
		b.WriteString("✅ No merchants with unfinished transactions aging past the threshold.\n")
	} else {
		b.WriteString("❌ Merchants with unfinished transactions aging past the threshold:\n")
		for _, f := range r.Aging {
			fmt.Fprintf(&b, "  • %s (%s)\n", f.Merchant, f.Detail)
		}
	}
	return b.String()
}

// Validator runs both business rules over an extracted report.
type Validator struct {
	cfg        config.ValidationConfig
	elapsedCol int
	drill      Drilldown
	log        zerolog.Logger
	now        func() time.Time
}

func NewValidator(cfg config.ValidationConfig, elapsedCol int, drill Drilldown, log zerolog.Logger) *Validator {
	return &Validator{
		cfg:        cfg,
		elapsedCol: elapsedCol,
		drill:      drill,
		log:        log.With().Str("component", "validator").Logger(),
		now:        time.Now,
	}
}

// Validate applies the failure-ratio rule to every row and the aging rule to
// every merchant with pending non-final transactions. All merchants and all
// states are evaluated before returning; a flagged merchant never
// short-circuits the pass. An empty report returns ErrEmptyReport.
func (v *Validator) Validate(ctx context.Context, rows []portal.ReportRow) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyReport
	}

	result := &Result{}
	for _, row := range rows {
		if f, flagged := v.checkFailureRatio(row); flagged {
			result.FailureRatio = append(result.FailureRatio, f)
		}
	}

	for _, row := range rows {
		f, flagged, err := v.checkAging(ctx, row)
		if err != nil {
			return nil, err
		}
		if flagged {
			result.Aging = append(result.Aging, f)
		}
	}

	v.log.Info().
		Int("rows", len(rows)).
		Int("failure_ratio_findings", len(result.FailureRatio)).
		Int("aging_findings", len(result.Aging)).
		Msg("Validation pass complete")
	return result, nil
}

// checkFailureRatio flags a merchant whose failed or rejected count exceeds
// its approved count.
func (v *Validator) checkFailureRatio(row portal.ReportRow) (Finding, bool) {
	merchant := row[portal.ColMerchant]
	if v.ignored("failure_ratio", merchant) {
		return Finding{}, false
	}

	approved := parseCount(row[portal.ColApproved])
	failed := parseCount(row[portal.ColFailed])
	rejected := parseCount(row[portal.ColRejected])

	var reasons []string
	if v.cfg.CheckFailed && failed > approved {
		reasons = append(reasons, fmt.Sprintf("failed %d > approved %d", failed, approved))
	}
	if v.cfg.CheckRejected && rejected > approved {
		reasons = append(reasons, fmt.Sprintf("rejected %d > approved %d", rejected, approved))
	}
	if len(reasons) == 0 {
		return Finding{}, false
	}
	return Finding{
		Merchant: merchant,
		Rule:     "failure_ratio",
		Detail:   strings.Join(reasons, ", "),
	}, true
}

// checkAging probes the drill-down for every non-final state with a positive
// count. Every state is probed even after one already flagged the merchant,
// so the log carries the complete picture; the merchant still yields at most
// one finding.
func (v *Validator) checkAging(ctx context.Context, row portal.ReportRow) (Finding, bool, error) {
	merchant := row[portal.ColMerchant]
	if v.ignored("aging", merchant) {
		return Finding{}, false, nil
	}

	var details []string
	for _, col := range v.stateColumns() {
		if parseCount(row[col]) <= 0 {
			continue
		}
		state := v.cfg.StateFilters[col]

		cells, records, err := v.drill.LastRow(ctx, merchant, state)
		if err != nil {
			return Finding{}, false, fmt.Errorf("aging probe %s/%s: %w", merchant, state, err)
		}
		if records == 0 {
			continue
		}

		age, ok := v.rowAge(cells)
		if !ok {
			if v.cfg.FlagOnUnreadableTime {
				details = append(details, fmt.Sprintf("%s: transaction time unreadable", state))
			} else {
				v.log.Warn().Str("merchant", merchant).Str("state", state).
					Msg("Could not read transaction time, skipping by configuration")
			}
			continue
		}
		if age > v.cfg.AgingThreshold {
			details = append(details, fmt.Sprintf("%s: oldest pending %s", state, age.Round(time.Minute)))
		}
	}

	if len(details) == 0 {
		return Finding{}, false, nil
	}
	return Finding{
		Merchant: merchant,
		Rule:     "aging",
		Detail:   strings.Join(details, "; "),
	}, true, nil
}

// stateColumns returns the configured non-final columns in a stable order.
func (v *Validator) stateColumns() []string {
	cols := make([]string, 0, len(v.cfg.StateFilters))
	for col := range v.cfg.StateFilters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// rowAge extracts the transaction clock time from a drill-down row and
// returns how long ago it was. The expected cell can render blank, so the
// remaining cells are scanned in column order and the first parseable time
// wins.
func (v *Validator) rowAge(cells []string) (time.Duration, bool) {
	if len(cells) == 0 {
		return 0, false
	}

	var t time.Time
	var ok bool
	if v.elapsedCol < len(cells) {
		t, ok = parseClockTime(cells[v.elapsedCol])
	}
	for i := 0; i < len(cells) && !ok; i++ {
		t, ok = parseClockTime(cells[i])
	}
	if !ok {
		return 0, false
	}

	now := v.now()
	at := time.Date(now.Year(), now.Month(), now.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	age := now.Sub(at)
	if age < 0 {
		// Clock time ahead of "now" on the same day means a fresh entry.
		age = 0
	}
	return age, true
}

func (v *Validator) ignored(rule, merchant string) bool {
	for _, m := range v.cfg.IgnoreMerchants[rule] {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(merchant)) {
			return true
		}
	}
	return false
}

// parseCount converts a portal count cell to an int. Cells use dot or comma
// grouping ("1.234") and render blank for zero; anything unparsable counts
// as zero.
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.NewReplacer(".", "", ",", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

var clockLayouts = []string{"03:04:05 PM", "3:04:05 PM", "03:04 PM", "3:04 PM", "15:04:05"}

// parseClockTime parses the portal's 12-hour clock values, which render AM/PM
// with dots and in lower case ("09:15:01 a.m.").
func parseClockTime(s string) (time.Time, bool) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ".", ""))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
