package blob

import (
	"errors"
)

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// IBlobStore is the narrow artifact-storage interface the catalog depends
// on. Tarballs and documentation archives live here, keyed by the artifact
// keys recorded on releases; the catalog never inspects blob contents.
type IBlobStore interface {
	// Put stores bytes under a key, overwriting any previous content.
	Put(key string, data []byte) error
	// Get returns the content stored under a key or ErrNotFound.
	Get(key string) ([]byte, error)
	// Delete removes the content stored under a key. Deleting a missing key
	// is not an error.
	Delete(key string) error
}
