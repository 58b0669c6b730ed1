package harness

import (
	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/testutil"
)

// Step outcomes recorded in StepResult.Status.
const (
	StatusApplied = "applied"
	StatusIgnored = "ignored"
	StatusDone    = "done"
)

// StepResult records what one step did.
type StepResult struct {
	Op     string `json:"op"`
	Client string `json:"client"`

	// ID is the card the step acted on. For add and add_at it is the id
	// the new card received.
	ID string `json:"id,omitempty"`

	Status string `json:"status"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step expectation, invariant
	// check and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reports holds the final report of every client the engine knows.
	Reports map[string]grid.Report `json:"reports"`

	// Saves lists every save the scheduler made, in order.
	Saves []testutil.SaveCall `json:"saves"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepResult{},
		Errors:  []string{},
		Reports: make(map[string]grid.Report),
		Saves:   []testutil.SaveCall{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// SavesFor returns the saves made for one client, in order.
func (r *Result) SavesFor(clientID string) []testutil.SaveCall {
	var out []testutil.SaveCall
	for _, s := range r.Saves {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out
}
