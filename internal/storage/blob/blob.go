// Package blob stores and retrieves EPANET .inp files, keyed by network id.
package blob

import "context"

// Store persists raw .inp file bytes for a network.
type Store interface {
	Put(ctx context.Context, networkID string, data []byte) (path string, err error)
	Get(ctx context.Context, networkID string) ([]byte, error)
	Delete(ctx context.Context, networkID string) error
}

var (
	_ Store = (*LocalFS)(nil)
	_ Store = (*S3)(nil)
)
