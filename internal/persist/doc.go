// Package persist keeps stored report layouts in step with the in-memory
// engine.
//
// A Loader hydrates a client from a Repository. A Scheduler subscribes to the
// engine and, after a quiet period (the debounce), writes the client's latest
// report back. Saves are fire-and-forget: failures are logged and never
// retried, and the in-memory report stays authoritative.
//
// Two checks avoid redundant writes:
//   - The first change after hydration is the hydration itself, which is
//     already durable, so it is recorded as saved rather than written.
//   - A fingerprint of the last successful save is kept per client; a timer
//     that fires with nothing new to write does nothing.
//
// Clients that were never hydrated are never saved, so a layout that could
// not be read is never overwritten by a default one.
package persist
