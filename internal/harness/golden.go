package harness

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/reportgrid/internal/layout"
)

// Snapshot renders a result as deterministic text for golden comparison:
// the step outcomes, the number of saves, then every client's report drawn
// by layout.Render, clients sorted.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("steps:\n")
	for i, s := range result.Steps {
		fmt.Fprintf(&b, "%3d %s", i+1, s.Op)
		if s.ID != "" {
			fmt.Fprintf(&b, " %s", s.ID)
		}
		fmt.Fprintf(&b, ": %s\n", s.Status)
	}
	fmt.Fprintf(&b, "saves: %d\n", len(result.Saves))

	clients := make([]string, 0, len(result.Reports))
	for id := range result.Reports {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	for _, id := range clients {
		fmt.Fprintf(&b, "[%s]\n", id)
		b.WriteString(layout.Render(result.Reports[id]))
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden
// file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}
