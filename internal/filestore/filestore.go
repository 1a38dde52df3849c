package filestore

import (
	"io"
)

// FileStore stores uploaded media blobs by name. Media referenced from chat
// messages and chat photos lives here; the database only keeps the name.
type FileStore interface {
	// Save stores the content under the given name. Saving an existing
	// name is a no-op.
	Save(r io.Reader, name string) error

	// Get retrieves the content stored under the given name.
	Get(name string) (io.ReadCloser, error)
}
