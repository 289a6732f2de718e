// Package presence records which connection identities are online. Entries
// expire after a TTL unless refreshed, so a crashed server's identities fade
// out on their own. Implementations are backed by an in-process cache or by
// Redis for sharing between tools.
package presence

import (
	"context"
	"time"
)

// Store tracks online identities and the remote address each connected from.
// Implementations are safe for concurrent use.
type Store interface {
	// MarkOnline records id as online from addr for the store's TTL,
	// refreshing the expiry if it is already present.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - id: The connection identity
	//   - addr: The peer address to remember
	//
	// Returns:
	//   - An error if the write fails
	MarkOnline(ctx context.Context, id string, addr string) error

	// MarkOffline removes id. Removing an unknown id is not an error.
	MarkOffline(ctx context.Context, id string) error

	// Lookup returns the address recorded for id.
	//
	// Returns:
	//   - The address, true if id is online, and an error if the read fails
	Lookup(ctx context.Context, id string) (string, bool, error)

	// Count returns the number of online identities.
	Count(ctx context.Context) (int, error)
}

// DefaultTTL is how long an identity stays online without a refresh.
const DefaultTTL = time.Minute
