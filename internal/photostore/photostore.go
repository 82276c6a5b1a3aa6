// Package photostore keeps profile photos in S3 or a local directory.
package photostore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for missing objects.
var ErrNotFound = errors.New("photo not found")

// Store is an object store for profile photos
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ProfileKey returns a fresh object key for a user's profile photo.
func ProfileKey(userID uuid.UUID) string {
	return fmt.Sprintf("profiles/%s/%s.jpg", userID, uuid.New())
}

// cleanKey rejects keys that could escape the store's namespace.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("empty object key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned != key || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}
