// Package memory holds the per-conversation message history the agent loop
// reads from and writes to.
//
// Invariants:
// - Messages of one conversation are strictly ordered by a store-assigned sequence.
// - Ordering is never mutated; Clear is the only removal.
// - The working context keeps every system message plus the newest others.
//
// Usage:
//
//	backend := memory.NewInMemoryBackend()
//	store, _ := backend.Store(ctx, sessionID)
//	_ = store.Append(ctx, memory.NewUserMessage("What is 3*5?"))
//	window, _ := store.WorkingContext(ctx, memory.DefaultContextWindow)
//	_ = window
package memory
