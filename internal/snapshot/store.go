// Package snapshot periodically exports the server's full view to object
// storage. Exports are write-only; deltanet never reads them back.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// ErrNoBucket is returned when an S3 store is created without a bucket.
var ErrNoBucket = errors.New("snapshot: bucket is required")

// Object is one exported snapshot.
type Object struct {
	Key      string
	Data     []byte
	Metadata map[string]string
}

// Store is the interface for snapshot storage backends.
type Store interface {
	// Put writes obj under obj.Key.
	Put(ctx context.Context, obj Object) error

	// Prune removes snapshots older than maxAge.
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}
