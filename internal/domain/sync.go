package domain

import (
	"net"
	"strconv"
	"time"
)

// FetchReason explains why a file has to be fetched
type FetchReason string

const (
	// FetchNew means the file does not exist locally
	FetchNew FetchReason = "new"

	// FetchStale means the remote copy is strictly newer than the local one
	FetchStale FetchReason = "stale"
)

// FetchAction is a decision to retrieve one named file from one peer
type FetchAction struct {
	Name     string
	ModTime  int64
	PeerHost string
	PeerPort int
	Reason   FetchReason
}

// PeerAddr returns host:port of the source peer
func (a FetchAction) PeerAddr() string {
	return net.JoinHostPort(a.PeerHost, strconv.Itoa(a.PeerPort))
}

// SyncPlan is the outcome of diffing the local inventory against a remote manifest
type SyncPlan struct {
	// Actions to execute, ordered by name
	Actions []FetchAction

	// Stats summary
	Stats SyncPlanStats
}

// SyncPlanStats provides summary statistics for a sync plan
type SyncPlanStats struct {
	RemoteFiles int
	LocalFiles  int
	NewFiles    int
	StaleFiles  int
	UpToDate    int
	LocalOnly   int
	Skipped     int
}

// NodeRegistration is sent on the first cycle of a tracker connection
type NodeRegistration struct {
	Port  int          `json:"port"`
	Files []FileRecord `json:"files"`
}

// NodeHeartbeat keeps a registered node listed as alive
type NodeHeartbeat struct {
	Port int `json:"port"`
}

// CycleKind identifies which tracker message started a cycle
type CycleKind string

const (
	CycleRegister  CycleKind = "register"
	CycleHeartbeat CycleKind = "heartbeat"
)

// CycleStatus is the overall outcome of one sync cycle
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CycleFailed  CycleStatus = "failed"
	CyclePartial CycleStatus = "partial"
)

// FetchResult records the outcome of a single fetch action
type FetchResult struct {
	Action FetchAction
	Bytes  int64
	Err    error
}

// CycleResult summarizes one sync cycle
type CycleResult struct {
	Kind     CycleKind
	Started  time.Time
	Finished time.Time
	Plan     *SyncPlan
	Fetches  []FetchResult
	Err      error
}

// Fetched returns the number of successful fetches
func (r *CycleResult) Fetched() int {
	n := 0
	for _, f := range r.Fetches {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of failed fetches
func (r *CycleResult) Failed() int {
	return len(r.Fetches) - r.Fetched()
}

// Bytes returns the total number of bytes written by successful fetches
func (r *CycleResult) Bytes() int64 {
	var total int64
	for _, f := range r.Fetches {
		if f.Err == nil {
			total += f.Bytes
		}
	}
	return total
}

// Status derives the cycle status from the tracker error and per-file results
func (r *CycleResult) Status() CycleStatus {
	switch {
	case r.Err != nil:
		return CycleFailed
	case r.Failed() == 0:
		return CycleSuccess
	case r.Fetched() == 0:
		return CycleFailed
	default:
		return CyclePartial
	}
}

// SyncPhase is the step a cycle is currently in
type SyncPhase string

const (
	PhaseIdle             SyncPhase = "idle"
	PhaseRegistering      SyncPhase = "registering"
	PhaseAwaitingManifest SyncPhase = "awaiting-manifest"
	PhaseDiffing          SyncPhase = "diffing"
	PhaseFetching         SyncPhase = "fetching"
)
