package planner

import (
	"path/filepath"

	"github.com/Ning0612/peersync/internal/core/diff"
	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/logger"
)

// Planner turns a local inventory and a remote manifest into a sync plan
type Planner interface {
	Plan(local domain.LocalManifest, remote domain.RemoteManifest) *domain.SyncPlan
}

// DefaultPlanner drops entries that cannot be stored locally, then diffs
type DefaultPlanner struct {
	Differ         diff.Comparer
	IgnorePatterns []string
}

// NewDefaultPlanner creates a planner using mtime comparison
func NewDefaultPlanner(ignore []string) *DefaultPlanner {
	return &DefaultPlanner{
		Differ:         diff.NewMtimeComparer(),
		IgnorePatterns: ignore,
	}
}

// Plan implements Planner
func (p *DefaultPlanner) Plan(local domain.LocalManifest, remote domain.RemoteManifest) *domain.SyncPlan {
	log := logger.With("component", "planner")

	accepted := make(domain.RemoteManifest, len(remote))
	skipped := 0
	for name, entry := range remote {
		if !domain.IsSyncable(name) {
			log.Warn("skipping unsyncable manifest entry", "file", name)
			skipped++
			continue
		}
		if shouldIgnore(name, p.IgnorePatterns) {
			log.Debug("ignoring manifest entry", "file", name)
			skipped++
			continue
		}
		if entry.PeerHost == "" || entry.PeerPort <= 0 || entry.PeerPort > 65535 {
			log.Warn("skipping manifest entry without usable peer",
				"file", name, "ip", entry.PeerHost, "port", entry.PeerPort)
			skipped++
			continue
		}
		accepted[name] = entry
	}

	plan := &domain.SyncPlan{
		Actions: diff.DiffWith(p.Differ, local, accepted),
	}
	calculateStats(plan, local, remote, skipped)
	return plan
}

func calculateStats(plan *domain.SyncPlan, local domain.LocalManifest, remote domain.RemoteManifest, skipped int) {
	stats := domain.SyncPlanStats{
		RemoteFiles: len(remote),
		LocalFiles:  len(local),
		Skipped:     skipped,
	}

	for _, a := range plan.Actions {
		switch a.Reason {
		case domain.FetchNew:
			stats.NewFiles++
		case domain.FetchStale:
			stats.StaleFiles++
		}
	}
	stats.UpToDate = len(remote) - skipped - len(plan.Actions)

	for _, f := range local {
		if _, ok := remote[f.Name]; !ok {
			stats.LocalOnly++
		}
	}

	plan.Stats = stats
}

// shouldIgnore reports whether name matches one of the glob patterns
func shouldIgnore(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
