// Package metrics samples real system and process metrics from /proc and
// the filesystem. Every value is measured; sources that are unavailable
// (non-Linux hosts) report Available=false instead of inventing numbers.
package metrics

// #region imports
import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// #endregion

// #region types

// Snapshot is a single point-in-time reading.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`

	Load    LoadSample    `json:"load"`
	Memory  MemorySample  `json:"memory"`
	Process ProcessSample `json:"process"`
	Disk    DiskSample    `json:"disk"`
}

// LoadSample is the 1/5/15-minute load average.
type LoadSample struct {
	Available bool    `json:"available"`
	Load1     float64 `json:"load1"`
	Load5     float64 `json:"load5"`
	Load15    float64 `json:"load15"`
}

// MemorySample reports system memory from /proc/meminfo.
type MemorySample struct {
	Available      bool   `json:"available"`
	TotalBytes     uint64 `json:"total_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// UsedFraction is used/total, or 0 when unavailable.
func (m MemorySample) UsedFraction() float64 {
	if !m.Available || m.TotalBytes == 0 {
		return 0
	}
	return float64(m.TotalBytes-m.AvailableBytes) / float64(m.TotalBytes)
}

// ProcessSample reports this process's CPU ticks and RSS from /proc/self/stat.
type ProcessSample struct {
	Available bool   `json:"available"`
	CPUTicks  uint64 `json:"cpu_ticks"` // utime + stime
	RSSBytes  uint64 `json:"rss_bytes"`
}

// DiskSample reports usage of the filesystem holding the workspace.
type DiskSample struct {
	Available  bool   `json:"available"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// #endregion types

// #region collector

// Collector takes snapshots for a workspace directory.
type Collector struct {
	workspaceDir string
	pageSize     uint64

	// file paths are fields so tests can point at fixtures
	loadavgPath string
	meminfoPath string
	statPath    string
}

// NewCollector creates a collector rooted at workspaceDir.
func NewCollector(workspaceDir string) *Collector {
	return &Collector{
		workspaceDir: workspaceDir,
		pageSize:     uint64(os.Getpagesize()),
		loadavgPath:  "/proc/loadavg",
		meminfoPath:  "/proc/meminfo",
		statPath:     "/proc/self/stat",
	}
}

// Take reads all sources once. Per-source failures degrade to
// Available=false; Take itself never fails.
func (c *Collector) Take() Snapshot {
	return Snapshot{
		TakenAt: time.Now().UTC(),
		Load:    c.readLoad(),
		Memory:  c.readMemory(),
		Process: c.readProcess(),
		Disk:    c.readDisk(),
	}
}

// #endregion collector

// #region load

func (c *Collector) readLoad() LoadSample {
	data, err := os.ReadFile(c.loadavgPath)
	if err != nil {
		return LoadSample{}
	}
	s, err := parseLoadavg(string(data))
	if err != nil {
		return LoadSample{}
	}
	return s
}

// parseLoadavg parses "0.52 0.58 0.59 1/467 12345".
func parseLoadavg(text string) (LoadSample, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return LoadSample{}, fmt.Errorf("loadavg: want 3+ fields, got %d", len(fields))
	}
	var vals [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return LoadSample{}, fmt.Errorf("loadavg field %d: %w", i, err)
		}
		vals[i] = v
	}
	return LoadSample{Available: true, Load1: vals[0], Load5: vals[1], Load15: vals[2]}, nil
}

// #endregion load

// #region memory

func (c *Collector) readMemory() MemorySample {
	f, err := os.Open(c.meminfoPath)
	if err != nil {
		return MemorySample{}
	}
	defer f.Close()

	total, avail := uint64(0), uint64(0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line)
		}
		if total > 0 && avail > 0 {
			break
		}
	}
	if total == 0 {
		return MemorySample{}
	}
	return MemorySample{Available: true, TotalBytes: total, AvailableBytes: avail}
}

// parseMeminfoKB extracts the kB value from "MemTotal:  16384 kB" as bytes.
func parseMeminfoKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}

// #endregion memory

// #region process

func (c *Collector) readProcess() ProcessSample {
	data, err := os.ReadFile(c.statPath)
	if err != nil {
		return ProcessSample{}
	}
	return parseProcStat(string(data), c.pageSize)
}

// parseProcStat pulls utime(14), stime(15) and rss(24) out of
// /proc/<pid>/stat. The comm field may contain spaces, so parsing starts
// after the closing paren.
func parseProcStat(text string, pageSize uint64) ProcessSample {
	end := strings.LastIndex(text, ")")
	if end < 0 || end+2 > len(text) {
		return ProcessSample{}
	}
	fields := strings.Fields(text[end+2:])
	// After comm: state is field 1 of the remainder; utime is field 12,
	// stime field 13, rss field 22 (0-based within the remainder).
	if len(fields) < 23 {
		return ProcessSample{}
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	rssPages, err3 := strconv.ParseUint(fields[21], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return ProcessSample{}
	}
	return ProcessSample{
		Available: true,
		CPUTicks:  utime + stime,
		RSSBytes:  rssPages * pageSize,
	}
}

// #endregion process

// #region disk

func (c *Collector) readDisk() DiskSample {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(c.workspaceDir, &fs); err != nil {
		return DiskSample{}
	}
	bsize := uint64(fs.Bsize)
	return DiskSample{
		Available:  true,
		TotalBytes: fs.Blocks * bsize,
		FreeBytes:  fs.Bavail * bsize,
	}
}

// #endregion disk
