// Package stats composes cache and prefetch snapshots into a single
// monitoring view. It holds no state of its own and never fails:
// missing sources degrade to zero-valued output.
package stats

import (
	"math"

	"github.com/soundshelf/go-catalog/metacache"
	"github.com/soundshelf/go-catalog/prefetch"
)

// CacheSource is any store that can snapshot its counters.
type CacheSource interface {
	Stats() metacache.Stats
}

// QueueSource is any scheduler that can snapshot its queues.
type QueueSource interface {
	Status() prefetch.Status
}

// Progress summarizes the prefetch scheduler for polling clients.
type Progress struct {
	Status       string `json:"status"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	Percentage   int    `json:"percentage"`
	Processing   int    `json:"processing"`
	HighPriority int    `json:"highPriority"`
	LowPriority  int    `json:"lowPriority"`
}

// Overview is the full monitoring payload.
type Overview struct {
	Releases      metacache.Stats         `json:"releases"`
	ReleaseGroups metacache.Stats         `json:"releaseGroups"`
	Combined      metacache.CombinedStats `json:"combined"`
	Prefetch      Progress                `json:"prefetch"`
}

// Aggregator reads from the underlying stores on demand.
type Aggregator struct {
	releases      CacheSource
	releaseGroups CacheSource
	queue         QueueSource
}

// New returns an Aggregator over the given sources. Any source may be
// nil and reports zeros.
func New(releases, releaseGroups CacheSource, queue QueueSource) *Aggregator {
	return &Aggregator{
		releases:      releases,
		releaseGroups: releaseGroups,
		queue:         queue,
	}
}

// Overview snapshots everything in one call.
func (a *Aggregator) Overview() Overview {
	var overview Overview
	if a.releases != nil {
		overview.Releases = a.releases.Stats()
	}
	if a.releaseGroups != nil {
		overview.ReleaseGroups = a.releaseGroups.Stats()
	}
	overview.Combined = metacache.CombineStats(overview.Releases, overview.ReleaseGroups)
	if a.queue != nil {
		overview.Prefetch = progress(a.queue.Status())
	} else {
		overview.Prefetch.Status = "idle"
	}
	return overview
}

func progress(status prefetch.Status) Progress {
	p := Progress{
		Status:       "idle",
		Completed:    status.Completed,
		Processing:   status.Processing,
		HighPriority: status.HighPriority,
		LowPriority:  status.LowPriority,
	}
	if status.IsRunning {
		p.Status = "running"
	}
	p.Total = status.Completed + status.Processing + status.HighPriority + status.LowPriority
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(status.Completed) / float64(p.Total) * 100))
	}
	return p
}
