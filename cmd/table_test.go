package cmd

import (
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Subject", "Minutes"},
		[][]string{{"alice", "95"}, {"bob"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"Subject", "Minutes", "alice", "95", "bob"} {
		if !strings.Contains(out, want) {
			t.Errorf("table is missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "\n") + 1; got != 6 {
		t.Errorf("expected 6 lines (border, header, separator, 2 rows, border), got %d:\n%s", got, out)
	}

	if renderTable(nil, [][]string{{"x"}}, nil) != "" {
		t.Error("table without headers should render empty")
	}
}
