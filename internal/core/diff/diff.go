package diff

import (
	"sort"

	"github.com/Ning0612/peersync/internal/domain"
)

// DiffResult represents the comparison of a remote entry with the local copy
type DiffResult int

const (
	// UpToDate means the local copy is as new as, or newer than, the remote one
	UpToDate DiffResult = iota
	// MissingLocally means the file only exists remotely
	MissingLocally
	// Stale means the remote copy is strictly newer
	Stale
)

// String returns a short label for logs
func (r DiffResult) String() string {
	switch r {
	case UpToDate:
		return "up-to-date"
	case MissingLocally:
		return "missing"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Comparer decides whether a remote entry has to be fetched
type Comparer interface {
	// Compare compares the local record (nil when absent) with a remote entry
	Compare(local *domain.FileRecord, remote domain.RemoteManifestEntry) DiffResult
}

// MtimeComparer compares whole-second modification times only.
// Equal timestamps never trigger a fetch, so a fully synced node is idle.
type MtimeComparer struct{}

// NewMtimeComparer creates a new MtimeComparer
func NewMtimeComparer() *MtimeComparer {
	return &MtimeComparer{}
}

// Compare implements the Comparer interface
func (c *MtimeComparer) Compare(local *domain.FileRecord, remote domain.RemoteManifestEntry) DiffResult {
	if local == nil {
		return MissingLocally
	}
	if remote.ModTime > local.ModTime {
		return Stale
	}
	return UpToDate
}

// Diff returns one fetch action per remote file that is missing locally or
// strictly newer remotely, ordered by name. Local-only files are ignored:
// synchronization never deletes.
func Diff(local domain.LocalManifest, remote domain.RemoteManifest) []domain.FetchAction {
	return DiffWith(NewMtimeComparer(), local, remote)
}

// DiffWith is Diff with a custom Comparer
func DiffWith(c Comparer, local domain.LocalManifest, remote domain.RemoteManifest) []domain.FetchAction {
	idx := local.Index()
	actions := make([]domain.FetchAction, 0)

	for name, entry := range remote {
		var localRec *domain.FileRecord
		if rec, ok := idx[name]; ok {
			localRec = &rec
		}

		var reason domain.FetchReason
		switch c.Compare(localRec, entry) {
		case MissingLocally:
			reason = domain.FetchNew
		case Stale:
			reason = domain.FetchStale
		default:
			continue
		}

		actions = append(actions, domain.FetchAction{
			Name:     name,
			ModTime:  entry.ModTime,
			PeerHost: entry.PeerHost,
			PeerPort: entry.PeerPort,
			Reason:   reason,
		})
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}
