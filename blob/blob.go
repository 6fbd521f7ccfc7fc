// Package blob provides the key-to-blob persistence used for account session
// strings, the cooperative session lock and the chat cache. Implementations
// exist for a local directory and for key/value tables in SQLite and
// PostgreSQL, so that a fleet of workers can share sessions through the
// database they already have.
package blob

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotExist is returned by Read when the key is absent.
var ErrNotExist = errors.New("blob: key does not exist")

// Store is a flat key-to-blob mapping. Writes are durable once the call
// returns. Keys are opaque strings; the only structure Glob understands is a
// trailing or embedded "*" wildcard.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	// Touch creates the key with an empty value, overwriting any previous value.
	Touch(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
	// Glob returns the keys matching pattern in lexical order.
	Glob(ctx context.Context, pattern string) ([]string, error)
}
