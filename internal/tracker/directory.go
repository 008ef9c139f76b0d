package tracker

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// DefaultTTL is how long a silent node stays in the directory
const DefaultTTL = 60 * time.Second

type nodeState struct {
	host     string
	port     int
	seq      uint64 // registration order, breaks mtime ties
	lastSeen time.Time
	files    map[string]int64
}

func (n *nodeState) key() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

// Directory is the tracker's view of every live node and its files.
// The owner of a name is the node advertising the newest mtime; on equal
// mtimes the node that registered first keeps it.
type Directory struct {
	mu    sync.Mutex
	ttl   time.Duration
	nodes map[string]*nodeState
	seq   uint64
	now   func() time.Time
}

// NewDirectory creates an empty directory. A ttl <= 0 never expires nodes.
func NewDirectory(ttl time.Duration) *Directory {
	return &Directory{
		ttl:   ttl,
		nodes: make(map[string]*nodeState),
		now:   time.Now,
	}
}

// Register replaces the file list of the node at host:port
func (d *Directory) Register(host string, port int, files []domain.FileRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node := &nodeState{host: host, port: port, lastSeen: d.now(), files: make(map[string]int64, len(files))}
	if prev, ok := d.nodes[node.key()]; ok {
		node.seq = prev.seq
	} else {
		d.seq++
		node.seq = d.seq
	}
	for _, f := range files {
		if domain.ValidateName(f.Name) != nil {
			continue
		}
		node.files[f.Name] = f.ModTime
	}
	d.nodes[node.key()] = node
}

// Heartbeat refreshes a node; it reports false for unknown nodes
func (d *Directory) Heartbeat(host string, port int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[net.JoinHostPort(host, strconv.Itoa(port))]
	if !ok {
		return false
	}
	node.lastSeen = d.now()
	return true
}

// Remove forgets a node
func (d *Directory) Remove(host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Prune drops nodes silent for longer than the ttl and returns their count
func (d *Directory) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked()
}

func (d *Directory) pruneLocked() int {
	if d.ttl <= 0 {
		return 0
	}
	cutoff := d.now().Add(-d.ttl)
	removed := 0
	for key, node := range d.nodes {
		if node.lastSeen.Before(cutoff) {
			delete(d.nodes, key)
			removed++
		}
	}
	return removed
}

// Nodes returns the number of live nodes
func (d *Directory) Nodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Manifest returns the owner of every known file
func (d *Directory) Manifest() domain.RemoteManifest {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked()

	nodes := make([]*nodeState, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })

	manifest := make(domain.RemoteManifest)
	for _, n := range nodes {
		for name, mtime := range n.files {
			if cur, ok := manifest[name]; ok && mtime <= cur.ModTime {
				continue
			}
			manifest[name] = domain.RemoteManifestEntry{
				Name:     name,
				ModTime:  mtime,
				PeerHost: n.host,
				PeerPort: n.port,
			}
		}
	}
	return manifest
}
