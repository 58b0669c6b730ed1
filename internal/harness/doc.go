// Package harness runs layout scenarios described in YAML.
//
// A scenario drives a layout.Engine through a list of steps, checks the
// layout invariants after every step, and evaluates assertions against the
// final reports and the saves the persistence scheduler made.
//
// # Scenario Format
//
//	name: fill_then_wrap
//	description: "Cards fill the first row, then wrap"
//	client: c1            # default c1
//	ids: [A, B, C]        # ids handed to new cards, then card-1, card-2, ...
//	stored: |             # optional document the client is hydrated from
//	  [{"type": "kpi"}]
//	steps:
//	  - op: add
//	    spec: {type: kpi}
//	    span: 2
//	  - op: set_span
//	    id: A
//	    span: 4
//	    expect: {applied: true}
//	  - op: advance
//	    duration: 650ms
//	assertions:
//	  - type: placement
//	    id: A
//	    span: 4
//	    row: 1
//	    col: 1
//	  - type: saves
//	    count: 1
//
// # Step Operations
//
//   - hydrate: replace the report with a stored document (document)
//   - set_title: title
//   - add: spec, span
//   - add_at: spec, span, row, col
//   - remove: id
//   - reorder: id, to
//   - set_span: id, span
//   - set_spec: id, spec
//   - place: id, row, col
//   - advance: move the scheduler clock forward (duration)
//   - flush: save every pending client now
//
// Missing arguments are passed through, so a scenario can check that the
// engine ignores malformed calls.
//
// # Assertion Types
//
//   - placement: a card's span, row and col (zero fields are not checked)
//   - order: card ids in list order
//   - count: number of cards
//   - title: report title
//   - absent: a card id is not in the report
//   - saves: number of saves for the client; final: true also requires the
//     last save to match the final report
//
// # Deterministic Testing
//
// Scenarios run against a fake clock and an in-memory repository, and new
// cards get ids from the scenario's ids list, so the same scenario always
// produces the same reports and golden snapshots.
package harness
