package scrape

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// DiskScraper reports usage for a configured list of mount points.
// A mount that fails to stat is skipped rather than failing the whole
// snapshot; the last error is kept for the health report.
type DiskScraper struct {
	mounts []string

	mu      sync.Mutex
	lastErr error
}

func NewDiskScraper(mounts []string) *DiskScraper {
	if len(mounts) == 0 {
		mounts = []string{"/"}
	}
	return &DiskScraper{mounts: mounts}
}

func (s *DiskScraper) Name() string { return "disk" }

func (s *DiskScraper) Scrape(ctx context.Context) []domain.DiskInfo {
	out := make([]domain.DiskInfo, 0, len(s.mounts))

	var firstErr error
	for _, mount := range s.mounts {
		usage, err := disk.UsageWithContext(ctx, mount)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, domain.DiskInfo{
			Mount:      mount,
			UsedBytes:  int64(usage.Used),
			TotalBytes: int64(usage.Total),
			UsedPct:    round1(usage.UsedPercent),
		})
	}

	s.mu.Lock()
	s.lastErr = firstErr
	s.mu.Unlock()

	return out
}

func (s *DiskScraper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
