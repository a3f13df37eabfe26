// Package session tracks conversation records and serialises work on each
// conversation.
//
// Invariants:
// - At most one run holds a session at a time; a second request fails fast with ErrSessionBusy.
// - A held session is released when the run returns or panics.
// - Closed sessions keep their records; only Active flips.
//
// Usage:
//
//	guard := session.NewLocalGuard()
//	result, err := session.RunExclusive(ctx, guard, sessionID, func(ctx context.Context) (string, error) {
//		return "done", nil
//	})
//	_, _ = result, err
package session
