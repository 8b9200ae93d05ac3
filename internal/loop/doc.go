// Package loop runs a development session: a sequential control loop that
// asks a code assistant what to build next, applies the suggestion, verifies
// the project and either commits or rolls back the working tree.
//
// Each tick moves through the phases Evaluating, Implementing, Verifying and
// then Committing or RollingBack, followed by Sleeping. Commit and rollback
// failures, and panics inside a tick, move the loop into Recovering, which
// forces a rollback and retries the tick without consuming an iteration.
//
// The session ends when the time budget or the iteration budget is
// exhausted, when the operator aborts, or when one of the optional limits
// (consecutive recoveries, iterations without progress) is reached. The
// session log is flushed exactly once when the loop completes.
//
// Collaborators are small interfaces declared here so tests can drive the
// loop with fakes and an injected clock.
package loop
