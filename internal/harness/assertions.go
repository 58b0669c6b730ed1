package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
)

// AssertionError is returned when an assertion fails.
// It includes the rendered report to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Report   string // Rendered report, empty if the client has none
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Report != "" {
		fmt.Fprintf(&buf, "\nReport:\n")
		for _, line := range strings.Split(strings.TrimRight(e.Report, "\n"), "\n") {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failures in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, defaultClient string) []error {
	var errs []error
	for _, a := range assertions {
		client := a.Client
		if client == "" {
			client = defaultClient
		}
		if err := evaluate(result, a, client); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, client string) error {
	if a.Type == AssertSaves {
		return assertSaves(result, a, client)
	}

	report, ok := result.Reports[client]
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a report for client %s", client),
			Actual:   "no report",
		}
	}

	switch a.Type {
	case AssertPlacement:
		return assertPlacement(report, a)
	case AssertOrder:
		return assertOrder(report, a)
	case AssertCount:
		return assertCount(report, a)
	case AssertTitle:
		return assertTitle(report, a)
	case AssertAbsent:
		return assertAbsent(report, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertPlacement(r grid.Report, a Assertion) error {
	idx := r.Find(a.ID)
	if idx < 0 {
		return &AssertionError{
			Type:     AssertPlacement,
			Expected: fmt.Sprintf("card %s", a.ID),
			Actual:   "not found",
			Report:   layout.Render(r),
		}
	}
	it := r.Items[idx]

	var want, got []string
	check := func(name string, expected, actual int) {
		if expected == 0 {
			return
		}
		want = append(want, fmt.Sprintf("%s=%d", name, expected))
		got = append(got, fmt.Sprintf("%s=%d", name, actual))
	}
	check("span", a.Span, it.Span)
	check("row", a.Row, it.Row)
	check("col", a.Col, it.Col)

	if (a.Span == 0 || a.Span == it.Span) && (a.Row == 0 || a.Row == it.Row) && (a.Col == 0 || a.Col == it.Col) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPlacement,
		Expected: fmt.Sprintf("card %s at %s", a.ID, strings.Join(want, " ")),
		Actual:   strings.Join(got, " "),
		Report:   layout.Render(r),
	}
}

func assertOrder(r grid.Report, a Assertion) error {
	got := make([]string, len(r.Items))
	for i, it := range r.Items {
		got[i] = it.ID
	}
	if reflect.DeepEqual(got, a.IDs) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOrder,
		Expected: fmt.Sprintf("%v", a.IDs),
		Actual:   fmt.Sprintf("%v", got),
		Report:   layout.Render(r),
	}
}

func assertCount(r grid.Report, a Assertion) error {
	if len(r.Items) == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCount,
		Expected: fmt.Sprintf("%d cards", *a.Count),
		Actual:   fmt.Sprintf("%d cards", len(r.Items)),
		Report:   layout.Render(r),
	}
}

func assertTitle(r grid.Report, a Assertion) error {
	if r.Title == *a.Title {
		return nil
	}
	return &AssertionError{
		Type:     AssertTitle,
		Expected: fmt.Sprintf("%q", *a.Title),
		Actual:   fmt.Sprintf("%q", r.Title),
	}
}

func assertAbsent(r grid.Report, a Assertion) error {
	if r.Find(a.ID) < 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("no card %s", a.ID),
		Actual:   "present",
		Report:   layout.Render(r),
	}
}

func assertSaves(result *Result, a Assertion, client string) error {
	saves := result.SavesFor(client)
	if len(saves) != *a.Count {
		return &AssertionError{
			Type:     AssertSaves,
			Expected: fmt.Sprintf("%d saves for %s", *a.Count, client),
			Actual:   fmt.Sprintf("%d saves", len(saves)),
		}
	}
	if !a.Final || len(saves) == 0 {
		return nil
	}

	last := saves[len(saves)-1].Report
	final := grid.NormalizeReport(result.Reports[client])
	if grid.Fingerprint(last) == grid.Fingerprint(final) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSaves,
		Expected: "last save to match the final report",
		Actual:   fmt.Sprintf("last save differs:\n%s", layout.Render(last)),
		Report:   layout.Render(final),
	}
}
