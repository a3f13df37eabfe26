package memory

import "context"

// Store is the ordered message history of one conversation. Sequence numbers
// are assigned on append and never change afterwards.
type Store interface {
	Append(ctx context.Context, msg Message) error
	AppendAll(ctx context.Context, msgs []Message) error
	All(ctx context.Context) ([]Message, error)
	WorkingContext(ctx context.Context, limit int) ([]Message, error)
	Recent(ctx context.Context, n int) ([]Message, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Backend hands out the Store of each conversation and caches it
type Backend interface {
	Store(ctx context.Context, sessionID string) (Store, error)
	Evict(sessionID string)
}
