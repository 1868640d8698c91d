package metrics

// #region imports
import (
	"context"
	"sync"
	"time"
)

// #endregion

// #region summary-types

// Summary aggregates the samples observed during a run window.
type Summary struct {
	Samples  int           `json:"samples"`
	Window   time.Duration `json:"window"`
	LoadMean float64       `json:"load1_mean"`
	LoadMax  float64       `json:"load1_max"`
	MemUsedMeanFraction float64 `json:"mem_used_mean_fraction"`
	MemUsedMaxFraction  float64 `json:"mem_used_max_fraction"`
	RSSMaxBytes         uint64  `json:"rss_max_bytes"`
	DiskFreeMinBytes    uint64  `json:"disk_free_min_bytes"`
	First               Snapshot `json:"first"`
	Last                Snapshot `json:"last"`
}

// #endregion summary-types

// #region sampler

// Sampler takes periodic snapshots until its context is cancelled.
type Sampler struct {
	collector *Collector
	interval  time.Duration

	mu      sync.Mutex
	samples []Snapshot
	done    chan struct{}
}

// NewSampler creates a sampler with the given interval (min 100ms).
func NewSampler(c *Collector, interval time.Duration) *Sampler {
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &Sampler{collector: c, interval: interval, done: make(chan struct{})}
}

// Start begins sampling in a goroutine. One snapshot is taken immediately
// so a summary exists even for very short runs.
func (s *Sampler) Start(ctx context.Context) {
	s.record(s.collector.Take())
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.record(s.collector.Take())
			}
		}
	}()
}

// Stop waits for the sampling goroutine to exit (context must be
// cancelled first) and takes a final snapshot.
func (s *Sampler) Stop() {
	<-s.done
	s.record(s.collector.Take())
}

func (s *Sampler) record(snap Snapshot) {
	s.mu.Lock()
	s.samples = append(s.samples, snap)
	s.mu.Unlock()
}

// #endregion sampler

// #region summarize

// Summary computes aggregates over the recorded samples.
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	samples := append([]Snapshot{}, s.samples...)
	s.mu.Unlock()
	return Summarize(samples)
}

// Summarize aggregates an explicit sample slice.
func Summarize(samples []Snapshot) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sum := Summary{
		Samples: len(samples),
		First:   samples[0],
		Last:    samples[len(samples)-1],
		Window:  samples[len(samples)-1].TakenAt.Sub(samples[0].TakenAt),
	}

	var loadSum, memSum float64
	loadN, memN := 0, 0
	for _, snap := range samples {
		if snap.Load.Available {
			loadSum += snap.Load.Load1
			loadN++
			if snap.Load.Load1 > sum.LoadMax {
				sum.LoadMax = snap.Load.Load1
			}
		}
		if snap.Memory.Available {
			used := snap.Memory.UsedFraction()
			memSum += used
			memN++
			if used > sum.MemUsedMaxFraction {
				sum.MemUsedMaxFraction = used
			}
		}
		if snap.Process.Available && snap.Process.RSSBytes > sum.RSSMaxBytes {
			sum.RSSMaxBytes = snap.Process.RSSBytes
		}
		if snap.Disk.Available {
			if sum.DiskFreeMinBytes == 0 || snap.Disk.FreeBytes < sum.DiskFreeMinBytes {
				sum.DiskFreeMinBytes = snap.Disk.FreeBytes
			}
		}
	}
	if loadN > 0 {
		sum.LoadMean = loadSum / float64(loadN)
	}
	if memN > 0 {
		sum.MemUsedMeanFraction = memSum / float64(memN)
	}
	return sum
}

// #endregion summarize
