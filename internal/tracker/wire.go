// Package tracker talks to the central tracker and implements a minimal
// in-process tracker.
//
// Both directions exchange JSON values back to back on one persistent TCP
// connection: the node sends a registration {"port", "files"} or a
// heartbeat {"port"}, and the tracker answers each one with the full
// manifest {"<name>": {"mtime", "ip", "port"}}.
package tracker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/Ning0612/peersync/internal/domain"
)

// wireEntry is one manifest entry as sent on the wire. Some trackers send
// mtime as a float, so it is decoded as a number and truncated.
type wireEntry struct {
	ModTime json.Number `json:"mtime"`
	Host    string      `json:"ip"`
	Port    int         `json:"port"`
}

// wireMessage is any node message; Files is nil for a heartbeat
type wireMessage struct {
	Port  *int                `json:"port"`
	Files []domain.FileRecord `json:"files"`
}

func parseModTime(n json.Number) (int64, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("bad mtime %q", n)
	}
	return int64(f), nil
}

func decodeManifest(raw map[string]wireEntry) (domain.RemoteManifest, error) {
	manifest := make(domain.RemoteManifest, len(raw))
	for name, e := range raw {
		mtime, err := parseModTime(e.ModTime)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", domain.ErrMalformedManifest, name, err)
		}
		manifest[name] = domain.RemoteManifestEntry{
			Name:     name,
			ModTime:  mtime,
			PeerHost: e.Host,
			PeerPort: e.Port,
		}
	}
	return manifest, nil
}

func encodeManifest(m domain.RemoteManifest) map[string]wireEntry {
	raw := make(map[string]wireEntry, len(m))
	for name, e := range m {
		raw[name] = wireEntry{
			ModTime: json.Number(strconv.FormatInt(e.ModTime, 10)),
			Host:    e.PeerHost,
			Port:    e.PeerPort,
		}
	}
	return raw
}
