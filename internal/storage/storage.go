// Package storage keeps uploaded documents in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	// Put stores the contents of r under key and returns its storage reference.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Reference renders key as a storage reference, e.g. gs://bucket/key.
	Reference(key string) string
}

const documentsPrefix = "documents/"

// DocumentKey returns the object key for a user's upload:
// documents/{user_id}/{filename}.
func DocumentKey(userID, filename string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, "/\\") || userID == "." || userID == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return documentsPrefix + userID + "/" + name, nil
}

// UserPrefix is the listing prefix for one user's documents.
func UserPrefix(userID string) string {
	return documentsPrefix + userID + "/"
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename returns the last path element of a key or URI.
// e.g. "gs://bucket/documents/u1/file.pdf" -> "file.pdf"
func Filename(keyOrURI string) string {
	return path.Base(strings.TrimPrefix(keyOrURI, "gs://"))
}
