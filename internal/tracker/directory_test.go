package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/peersync/internal/domain"
)

func records(pairs ...any) []domain.FileRecord {
	var out []domain.FileRecord
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.FileRecord{Name: pairs[i].(string), ModTime: int64(pairs[i+1].(int))})
	}
	return out
}

func TestDirectory_NewestMtimeWins(t *testing.T) {
	d := NewDirectory(0)
	d.Register("10.0.0.1", 8000, records("a.txt", 100, "b.txt", 300))
	d.Register("10.0.0.2", 8001, records("a.txt", 200, "b.txt", 300, "c.txt", 50))

	m := d.Manifest()
	require.Len(t, m, 3)

	assert.Equal(t, domain.RemoteManifestEntry{Name: "a.txt", ModTime: 200, PeerHost: "10.0.0.2", PeerPort: 8001}, m["a.txt"])
	// equal mtime keeps the first registrant
	assert.Equal(t, "10.0.0.1", m["b.txt"].PeerHost)
	assert.Equal(t, 8001, m["c.txt"].PeerPort)
}

func TestDirectory_ReregisterReplacesFiles(t *testing.T) {
	d := NewDirectory(0)
	d.Register("10.0.0.1", 8000, records("a.txt", 100, "old.txt", 10))
	d.Register("10.0.0.2", 8000, records("b.txt", 100))
	d.Register("10.0.0.1", 8000, records("a.txt", 150))

	m := d.Manifest()
	assert.Len(t, m, 2)
	assert.NotContains(t, m, "old.txt")
	assert.Equal(t, int64(150), m["a.txt"].ModTime)
	assert.Equal(t, 2, d.Nodes())
}

func TestDirectory_SkipsInvalidNames(t *testing.T) {
	d := NewDirectory(0)
	d.Register("10.0.0.1", 8000, records("ok.txt", 1, "../escape", 2, ".hidden", 3, "", 4))

	m := d.Manifest()
	assert.Len(t, m, 1)
	assert.Contains(t, m, "ok.txt")
}

func TestDirectory_HeartbeatAndPrune(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	d := NewDirectory(30 * time.Second)
	d.now = func() time.Time { return now }

	assert.False(t, d.Heartbeat("10.0.0.1", 8000))

	d.Register("10.0.0.1", 8000, records("a.txt", 1))
	d.Register("10.0.0.2", 8000, records("b.txt", 1))

	now = now.Add(20 * time.Second)
	assert.True(t, d.Heartbeat("10.0.0.1", 8000))

	now = now.Add(20 * time.Second)
	m := d.Manifest()
	assert.Contains(t, m, "a.txt")
	assert.NotContains(t, m, "b.txt", "silent node should be pruned")
	assert.Equal(t, 1, d.Nodes())
}

func TestDirectory_Remove(t *testing.T) {
	d := NewDirectory(0)
	d.Register("10.0.0.1", 8000, records("a.txt", 1))
	d.Remove("10.0.0.1", 8000)
	assert.Empty(t, d.Manifest())
}
