package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/peersync/internal/domain"
)

// Adapter is the node's view of its root directory.
// Names are bare file names; implementations reject anything that would
// leave the root and return domain-level errors.
type Adapter interface {
	// List returns the current inventory of syncable regular files.
	// It always reads the disk; results are never cached.
	List(ctx context.Context) (domain.LocalManifest, error)

	// Open opens a file for reading and returns its size.
	// Caller is responsible for closing the reader.
	// Returns domain.ErrNotFound if the file doesn't exist
	// Returns domain.ErrNotFile if the name is not a regular file
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Write atomically replaces name with the content of r and sets its
	// modification time to mtime (epoch seconds). Readers either see the
	// old file or the complete new one.
	Write(ctx context.Context, name string, r io.Reader, mtime int64) (int64, error)

	// Stat returns metadata for a single file
	Stat(ctx context.Context, name string) (domain.FileRecord, error)

	// Root returns the directory this adapter serves
	Root() string

	// Close releases any resources held by the adapter
	Close() error
}
