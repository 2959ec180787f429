// Package session implements the shared-operator concurrency core: per-agent
// inboxes of pending work and the process-wide registry that navigates them.
//
// # Model
//
// Each agent gets one Session, keyed by its protocol session id. A Session
// owns an ordered inbox of Items ("present these choices" or "speak this
// text" calls) and guarantees that items resolve in enqueue order, with
// two exceptions: urgent speech (priority >= 1) preempts queue position, and
// items whose originating call has vanished are swept with the _restart
// sentinel instead of ever reaching the human.
//
// # Piggybacking
//
// The external protocol can deliver the same logical call twice (client-side
// retry after a slow response). DedupEnqueue scans the live inbox for an
// item with identical content and hands the retry the existing item; both
// callers block on the same completion channel and wake with the same result.
// Presenting the question twice could produce two divergent answers.
//
// # Drain loop
//
// Every Session runs one drain goroutine (started by the Manager). The loop
// advances the inbox: speech items are played through DrainHooks and resolved
// in place; a choices item is surfaced exactly once and stays at the front
// until the human resolves it. At most one item per session is ever active.
//
// # Lifecycle
//
// Sessions are auto-vivified on first contact and destroyed by explicit
// close or stale cleanup. Every destruction path force-resolves all live
// items with _cancelled before the Session becomes unreachable, so a blocked
// caller always eventually wakes.
package session
