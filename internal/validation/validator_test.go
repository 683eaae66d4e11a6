package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpay/portalwatch/internal/config"
	"github.com/ftpay/portalwatch/internal/portal"
)

type probeResult struct {
	cells   []string
	records int
	err     error
}

// fakeDrilldown answers probes from a merchant/state keyed script and
// records every probe made.
type fakeDrilldown struct {
	results map[string]probeResult
	probes  []string
}

func (f *fakeDrilldown) LastRow(ctx context.Context, merchant, state string) ([]string, int, error) {
	key := merchant + "/" + state
	f.probes = append(f.probes, key)
	r := f.results[key]
	return r.cells, r.records, r.err
}

func testValidationConfig() config.ValidationConfig {
	return config.ValidationConfig{
		IgnoreMerchants: map[string][]string{
			"failure_ratio": {"CAFAM"},
			"aging":         {"CAFAM"},
		},
		CheckFailed:          true,
		CheckRejected:        true,
		AgingThreshold:       60 * time.Minute,
		FlagOnUnreadableTime: true,
		StateFilters: map[string]string{
			portal.ColNonFinal:     "NO FINALES",
			portal.ColNonFinalCash: "NO FINALES EFE",
			portal.ColUnreported:   "NO REPORTADO",
		},
	}
}

func row(merchant, approved, rejected, failed, nonFinal string) portal.ReportRow {
	return portal.ReportRow{
		portal.ColMerchant: merchant,
		portal.ColApproved: approved,
		portal.ColRejected: rejected,
		portal.ColFailed:   failed,
		portal.ColNonFinal: nonFinal,
	}
}

// drillRow builds an eleven-cell by-date row with the clock value in the
// elapsed-time column.
func drillRow(clock string) []string {
	cells := make([]string, 11)
	cells[10] = clock
	return cells
}

func newTestValidator(t *testing.T, drill Drilldown, at time.Time) *Validator {
	t.Helper()
	v := NewValidator(testValidationConfig(), 10, drill, zerolog.Nop())
	v.now = func() time.Time { return at }
	return v
}

func TestValidateEmptyReport(t *testing.T) {
	v := newTestValidator(t, &fakeDrilldown{}, time.Now())

	_, err := v.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyReport)
}

func TestFailureRatioFlagsFailedAndRejected(t *testing.T) {
	v := newTestValidator(t, &fakeDrilldown{}, time.Now())

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "5", "0", "9", "0"),
		row("BANCO POPULAR", "3", "10", "0", "0"),
		row("SURA", "100", "2", "1", "0"),
	})
	require.NoError(t, err)

	require.Len(t, res.FailureRatio, 2)
	assert.Equal(t, "COOMEVA", res.FailureRatio[0].Merchant)
	assert.Contains(t, res.FailureRatio[0].Detail, "failed 9 > approved 5")
	assert.Equal(t, "BANCO POPULAR", res.FailureRatio[1].Merchant)
	assert.Contains(t, res.FailureRatio[1].Detail, "rejected 10 > approved 3")
}

func TestFailureRatioHonoursIgnoreList(t *testing.T) {
	v := newTestValidator(t, &fakeDrilldown{}, time.Now())

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("cafam", "0", "5", "5", "0"), // ignore match is case-insensitive
	})
	require.NoError(t, err)
	assert.Empty(t, res.FailureRatio)
}

func TestFailureRatioGroupedNumbersAndBlanks(t *testing.T) {
	v := newTestValidator(t, &fakeDrilldown{}, time.Now())

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "1.234", "1.233", "", "0"), // 1234 approved, blank failed = 0
	})
	require.NoError(t, err)
	assert.Empty(t, res.FailureRatio)
}

func TestAgingFlagsOldTransaction(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 30, 0, 0, time.Local)
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {cells: drillRow("09:15:01 a.m."), records: 4},
	}}
	v := newTestValidator(t, drill, now)

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "4"),
	})
	require.NoError(t, err)

	require.Len(t, res.Aging, 1)
	assert.Equal(t, "COOMEVA", res.Aging[0].Merchant)
	assert.Contains(t, res.Aging[0].Detail, "NO FINALES")
}

func TestAgingFreshTransactionIsClean(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 30, 0, 0, time.Local)
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {cells: drillRow("10:15:00 a.m."), records: 2},
	}}
	v := newTestValidator(t, drill, now)

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "2"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Aging)
}

func TestAgingProbesAllStatesWithoutShortCircuit(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.Local)
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES":     {cells: drillRow("08:00:00 a.m."), records: 1},
		"COOMEVA/NO FINALES EFE": {cells: drillRow("08:30:00 a.m."), records: 1},
	}}
	v := newTestValidator(t, drill, now)

	rows := []portal.ReportRow{{
		portal.ColMerchant:     "COOMEVA",
		portal.ColApproved:     "10",
		portal.ColNonFinal:     "1",
		portal.ColNonFinalCash: "1",
	}}
	res, err := v.Validate(context.Background(), rows)
	require.NoError(t, err)

	// Both states probed even though the first already flagged the merchant,
	// and the merchant appears exactly once.
	assert.Len(t, drill.probes, 2)
	require.Len(t, res.Aging, 1)
	assert.Contains(t, res.Aging[0].Detail, "NO FINALES EFE")
}

func TestAgingZeroCountSkipsProbe(t *testing.T) {
	drill := &fakeDrilldown{}
	v := newTestValidator(t, drill, time.Now())

	_, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "0"),
	})
	require.NoError(t, err)
	assert.Empty(t, drill.probes)
}

func TestAgingUnreadableTimeFailsSafe(t *testing.T) {
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {cells: []string{"", "", ""}, records: 3},
	}}
	v := newTestValidator(t, drill, time.Now())

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "3"),
	})
	require.NoError(t, err)

	require.Len(t, res.Aging, 1)
	assert.Contains(t, res.Aging[0].Detail, "unreadable")
}

func TestAgingBlankColumnScansOtherCells(t *testing.T) {
	now := time.Date(2026, 8, 30, 16, 0, 0, 0, time.Local)
	cells := make([]string, 11)
	cells[8] = "02:10:00 p.m." // expected column blank, time lives elsewhere
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {cells: cells, records: 1},
	}}
	v := newTestValidator(t, drill, now)

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "1"),
	})
	require.NoError(t, err)

	require.Len(t, res.Aging, 1)
	assert.Contains(t, res.Aging[0].Detail, "oldest pending")
}

func TestAgingBlankColumnUsesFirstTimeInColumnOrder(t *testing.T) {
	now := time.Date(2026, 8, 30, 16, 0, 0, 0, time.Local)
	cells := make([]string, 11)
	cells[2] = "09:00:00 a.m." // seven hours old, would flag
	cells[8] = "03:50:00 p.m." // ten minutes old, would not
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {cells: cells, records: 1},
	}}
	v := newTestValidator(t, drill, now)

	res, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "1"),
	})
	require.NoError(t, err)

	// The leftmost parseable time wins, so the stale morning entry flags.
	require.Len(t, res.Aging, 1)
	assert.Contains(t, res.Aging[0].Detail, "7h0m0s")
}

func TestAgingProbeErrorAborts(t *testing.T) {
	drill := &fakeDrilldown{results: map[string]probeResult{
		"COOMEVA/NO FINALES": {err: fmt.Errorf("portal gone")},
	}}
	v := newTestValidator(t, drill, time.Now())

	_, err := v.Validate(context.Background(), []portal.ReportRow{
		row("COOMEVA", "10", "0", "0", "1"),
	})
	assert.ErrorContains(t, err, "portal gone")
}

func TestResultMessageSections(t *testing.T) {
	res := &Result{
		FailureRatio: []Finding{{Merchant: "COOMEVA", Rule: "failure_ratio", Detail: "failed 9 > approved 5"}},
		Aging:        []Finding{{Merchant: "SURA", Rule: "aging", Detail: "NO FINALES: oldest pending 2h0m0s"}},
	}

	msg := res.Message()
	assert.Contains(t, msg, "❌ Merchants with more failed/rejected than approved")
	assert.Contains(t, msg, "COOMEVA")
	assert.Contains(t, msg, "❌ Merchants with unfinished transactions aging")
	assert.Contains(t, msg, "SURA")
	assert.NotContains(t, msg, "✅")

	assert.Equal(t, []string{"COOMEVA", "SURA"}, res.Merchants())
}

func TestResultOneCleanSectionStillRendersIt(t *testing.T) {
	res := &Result{
		Aging: []Finding{{Merchant: "SURA", Rule: "aging", Detail: "NO FINALES: oldest pending 2h0m0s"}},
	}

	msg := res.Message()
	assert.Contains(t, msg, "✅ No merchants with more failed/rejected")
	assert.Contains(t, msg, "❌ Merchants with unfinished transactions aging")
}

func TestResultNoIssuesRendersAllClear(t *testing.T) {
	res := &Result{}
	assert.False(t, res.HasIssues())

	msg := res.Message()
	assert.Contains(t, msg, "✅ No merchants with more failed/rejected than approved")
	assert.Contains(t, msg, "✅ No merchants with unfinished transactions aging past the threshold")
	assert.NotContains(t, msg, "❌")
}

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in   string
		hour int
		ok   bool
	}{
		{"09:15:01 a.m.", 9, true},
		{"09:15:01 p.m.", 21, true},
		{"12:00:01 a.m.", 0, true},
		{"12:00:01 p.m.", 12, true},
		{"14:05:00", 14, true},
		{"", 0, false},
		{"N/A", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseClockTime(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.hour, got.Hour())
			}
		})
	}
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, 0, parseCount(""))
	assert.Equal(t, 0, parseCount("  "))
	assert.Equal(t, 1234, parseCount("1.234"))
	assert.Equal(t, 1234, parseCount("1,234"))
	assert.Equal(t, 7, parseCount("7"))
	assert.Equal(t, 0, parseCount("n/a"))
}
