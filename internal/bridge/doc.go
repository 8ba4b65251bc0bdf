// Package bridge marshals work from network goroutines onto the host's
// primary execution context.
//
// The primary context is modelled by Loop: a single goroutine (optionally
// locked to its OS thread) that drains a queue of posted tasks. Anything may
// post to the loop concurrently, including the host itself.
//
// Bridge.Invoke is a bounded-wait future over that queue:
//
//   - a caller that is already running on the loop (its context carries the
//     loop marker) runs the function inline
//   - any other caller posts a task and blocks until it completes, the call
//     timeout elapses, or its context is cancelled
//
// A timed out call reports whether the loop never picked the task up
// (ErrNeverStarted, the host is likely stalled) or picked it up and has not
// finished (ErrStillRunning). Completion slots are pooled; a slot goes back
// to the pool only once both the caller and the task are done with it.
package bridge
