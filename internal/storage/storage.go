// Package storage persists run artifacts such as backtest results to a
// local directory or an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when no object exists at a key.
var ErrNotFound = errors.New("storage: object not found")

// Blob is a flat key/value object store. Keys use forward slashes.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// cleanKey normalizes key and rejects keys that escape the store root.
func cleanKey(key string) (string, error) {
	norm := strings.ReplaceAll(key, "\\", "/")
	for _, part := range strings.Split(norm, "/") {
		if part == ".." {
			return "", fmt.Errorf("storage: key %q escapes root", key)
		}
	}
	k := strings.TrimPrefix(path.Clean("/"+norm), "/")
	if k == "" {
		return "", fmt.Errorf("storage: empty key %q", key)
	}
	return k, nil
}
