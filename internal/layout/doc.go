// Package layout owns the in-memory report state of every client and
// exposes the mutations the dashboard performs on it.
//
// An Engine maps client ids to grid.Report values. Every mutation is a total
// function of the current report and its arguments: malformed calls (empty
// client id, empty item id, missing payload, unknown item) are ignored rather
// than reported, and every applied mutation leaves the report collision free.
//
// Thread-safety model:
//   - Mutations are serialised by a writer lock held until every subscriber
//     has been notified, so subscribers observe changes in the order they
//     were applied.
//   - Report and Clients may be called from any goroutine, including from
//     inside a subscriber.
//   - Subscribers must not call mutating methods; doing so deadlocks.
package layout
