package hitl

import (
	"context"
	"time"
)

// Store persists paused state under resume tokens. Take must delete the
// entry before returning it; the engine performs the expiry check on the
// returned timestamp.
type Store interface {
	// Put stores state under token with the given expiry.
	Put(ctx context.Context, token string, state []byte, expiresAt time.Time) error

	// Take removes and returns the entry. ErrNotFound when absent.
	Take(ctx context.Context, token string) (state []byte, expiresAt time.Time, err error)

	Close() error
}
