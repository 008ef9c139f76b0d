package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/lock"
)

// Adapter implements adapter.Adapter for a flat local directory
type Adapter struct {
	root  string
	locks *lock.NameLocks
}

// New creates a local adapter rooted at an existing directory
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	return &Adapter{root: absRoot, locks: lock.NewNameLocks()}, nil
}

// resolvePath maps a bare name to a path inside root
func (a *Adapter) resolvePath(name string) (string, error) {
	if err := domain.ValidateName(name); err != nil {
		return "", err
	}
	if domain.IsExcluded(name) {
		return "", domain.ErrPermissionDenied
	}
	return filepath.Join(a.root, name), nil
}

// List returns every syncable regular file directly under root
func (a *Adapter) List(ctx context.Context) (domain.LocalManifest, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, a.mapError(err)
	}

	result := make(domain.LocalManifest, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.Type().IsRegular() || !domain.IsSyncable(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}

		result = append(result, recordFromOS(entry.Name(), info))
	}

	return result, nil
}

// Open opens a file for reading.
// The shared name lock is only held while opening: once the descriptor
// exists a concurrent rename cannot change what it reads.
func (a *Adapter) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	fullPath, err := a.resolvePath(name)
	if err != nil {
		return nil, 0, err
	}

	release := a.locks.RLock(name)
	defer release()

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, 0, a.mapError(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, a.mapError(err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, 0, domain.ErrNotFile
	}

	return file, info.Size(), nil
}

// Write streams r into a hidden temp file, stamps its mtime and renames it
// into place under the exclusive name lock.
func (a *Adapter) Write(ctx context.Context, name string, r io.Reader, mtime int64) (int64, error) {
	fullPath, err := a.resolvePath(name)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(a.root, tempPattern(name))
	if err != nil {
		return 0, a.mapError(err)
	}
	tempPath := tmp.Name()

	written, copyErr := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	closeErr := tmp.Close()

	if copyErr != nil {
		os.Remove(tempPath)
		return written, copyErr
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return written, closeErr
	}

	ts := time.Unix(mtime, 0)
	if err := os.Chtimes(tempPath, ts, ts); err != nil {
		os.Remove(tempPath)
		return written, a.mapError(err)
	}

	release := a.locks.Lock(name)
	defer release()

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return written, a.mapError(err)
	}

	return written, nil
}

// Stat returns metadata for a single file
func (a *Adapter) Stat(ctx context.Context, name string) (domain.FileRecord, error) {
	fullPath, err := a.resolvePath(name)
	if err != nil {
		return domain.FileRecord{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return domain.FileRecord{}, a.mapError(err)
	}
	if !info.Mode().IsRegular() {
		return domain.FileRecord{}, domain.ErrNotFile
	}

	return recordFromOS(name, info), nil
}

// maxTempPrefix keeps temp names well under the 255-byte file name limit
const maxTempPrefix = 64

// tempPattern builds the CreateTemp pattern for name, shortening long
// names on a rune boundary
func tempPattern(name string) string {
	prefix := name
	if len(prefix) > maxTempPrefix {
		cut := maxTempPrefix
		for cut > 0 && !utf8.RuneStart(prefix[cut]) {
			cut--
		}
		prefix = prefix[:cut]
	}
	return "." + prefix + ".*" + domain.TempSuffix
}

// CleanTemp removes leftovers of interrupted downloads
func (a *Adapter) CleanTemp() (int, error) {
	matches, err := filepath.Glob(filepath.Join(a.root, ".*"+domain.TempSuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

// Root returns the root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

func recordFromOS(name string, info os.FileInfo) domain.FileRecord {
	return domain.FileRecord{
		Name:    name,
		ModTime: info.ModTime().Unix(),
		Size:    info.Size(),
	}
}

// mapError converts OS errors to domain errors
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return domain.ErrPermissionDenied
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Op == "read" {
		// reading a directory handle
		return domain.ErrNotFile
	}

	return err
}

// contextReader stops a copy once ctx is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
