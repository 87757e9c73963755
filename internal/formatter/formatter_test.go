package formatter

import (
	"strings"
	"testing"

	"github.com/carlbeek/gas-repricer/internal/store"
)

func TestFormatSummaryEmpty(t *testing.T) {
	out := FormatSummary(nil, 100, 200)
	if !strings.Contains(out, "No behavioral divergence") {
		t.Errorf("expected empty-range message, got: %s", out)
	}
}

func TestFormatSummaryGroupsBySeverity(t *testing.T) {
	records := []store.Record{
		{BlockNumber: 1, TxIndex: 0, Types: `["STATUS"]`, NormalGasUsed: 21000, ExperimentalGasUsed: 2688000, GasEfficiencyRatio: 1.0},
		{BlockNumber: 2, TxIndex: 1, Types: `["GAS_PATTERN"]`, NormalGasUsed: 50000, ExperimentalGasUsed: 7000000, GasEfficiencyRatio: 1.09},
	}

	out := FormatSummary(records, 1, 2)
	if !strings.Contains(out, "block 1 tx 0") {
		t.Errorf("missing high-severity record in output: %s", out)
	}
	if !strings.Contains(out, "block 2 tx 1") {
		t.Errorf("missing low-severity record in output: %s", out)
	}
	if !strings.Contains(out, "Divergences Found: 2") {
		t.Errorf("missing summary count in output: %s", out)
	}
}

func TestFormatTypeBreakdownSortsByCountDescending(t *testing.T) {
	out := FormatTypeBreakdown(map[string]int{"STATUS": 1, "GAS_PATTERN": 5})
	statusIdx := strings.Index(out, "STATUS")
	gasIdx := strings.Index(out, "GAS_PATTERN")
	if gasIdx == -1 || statusIdx == -1 || gasIdx > statusIdx {
		t.Errorf("expected GAS_PATTERN (count 5) before STATUS (count 1), got: %s", out)
	}
}

func TestFormatGas(t *testing.T) {
	cases := []struct {
		gas  uint64
		want string
	}{
		{500, "500"},
		{1500, "1.50K"},
		{2_500_000, "2.50M"},
	}
	for _, c := range cases {
		if got := formatGas(c.gas); got != c.want {
			t.Errorf("formatGas(%d) = %s, want %s", c.gas, got, c.want)
		}
	}
}
