package output

import (
	"context"

	"agent-bridge/internal/domain"
)

// DurableStore interface - Output port
// Defines what the application needs from an external object store: named byte
// blobs with no schema beyond the bytes and their content type.
// Implementations must be safe for concurrent use across different paths.
type DurableStore interface {
	// Get returns the blob stored at path, or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, path string) (*domain.Blob, error)

	// Put writes the blob at path, replacing any previous value.
	Put(ctx context.Context, path string, blob domain.Blob) error

	// Delete removes the blob at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// List returns every path that starts with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
