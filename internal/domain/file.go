package domain

import (
	"sort"
	"strings"
	"time"
)

// FileRecord is one regular file in a node's root directory
type FileRecord struct {
	// Name is the bare file name; the root never has subdirectories
	Name string `json:"name"`

	// ModTime is the modification time in whole seconds since the epoch
	ModTime int64 `json:"mtime"`

	// Size in bytes; local bookkeeping only, never sent to the tracker
	Size int64 `json:"-"`
}

// Time returns ModTime as a time.Time
func (f FileRecord) Time() time.Time {
	return time.Unix(f.ModTime, 0)
}

// LocalManifest is a snapshot of the local inventory, read fresh for every cycle
type LocalManifest []FileRecord

// Index returns the manifest keyed by file name
func (m LocalManifest) Index() map[string]FileRecord {
	idx := make(map[string]FileRecord, len(m))
	for _, f := range m {
		idx[f.Name] = f
	}
	return idx
}

// Sorted returns a copy ordered by name
func (m LocalManifest) Sorted() LocalManifest {
	out := make(LocalManifest, len(m))
	copy(out, m)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoteManifestEntry is the tracker's view of the freshest copy of one file
type RemoteManifestEntry struct {
	Name     string `json:"-"`
	ModTime  int64  `json:"mtime"`
	PeerHost string `json:"ip"`
	PeerPort int    `json:"port"`
}

// RemoteManifest maps file name to the peer holding its freshest copy.
// It is replaced, never merged, on every cycle.
type RemoteManifest map[string]RemoteManifestEntry

// Names returns the manifest's file names in sorted order
func (m RemoteManifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxNameLength bounds file names accepted from peers and the tracker
const MaxNameLength = 255

// TempSuffix marks in-flight downloads; such files are never listed or served
const TempSuffix = ".peersync.tmp"

// excludedSuffixes are build and script artifacts that never take part in sync
var excludedSuffixes = []string{".so", ".py", ".dll"}

// ValidateName checks that name is a bare file name inside the root.
// Hidden files are rejected: the node keeps its own bookkeeping there.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return ErrInvalidName
	}
	if name == "." || name == ".." || name[0] == '.' {
		return ErrInvalidName
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', '\\', 0:
			return ErrInvalidName
		}
	}
	return nil
}

// IsExcluded reports whether name is an artifact that is never synced
func IsExcluded(name string) bool {
	if strings.HasSuffix(name, TempSuffix) {
		return true
	}
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// IsSyncable combines ValidateName and IsExcluded
func IsSyncable(name string) bool {
	return ValidateName(name) == nil && !IsExcluded(name)
}
