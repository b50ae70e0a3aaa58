package scrape

import (
	"context"
	"math"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUScraper reports whole-machine CPU utilisation as a percentage.
// gopsutil computes the figure from the delta between successive
// /proc/stat reads, so the very first call has no baseline and the
// scraper returns nil until one exists.
type CPUScraper struct {
	mu      sync.Mutex
	primed  bool
	lastErr error
}

func NewCPUScraper() *CPUScraper {
	return &CPUScraper{}
}

func (s *CPUScraper) Name() string { return "cpu" }

func (s *CPUScraper) Scrape(ctx context.Context) *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		s.lastErr = err
		return nil
	}
	s.lastErr = nil

	if !s.primed {
		s.primed = true
		return nil
	}
	if len(pcts) == 0 {
		return nil
	}

	v := round1(pcts[0])
	return &v
}

func (s *CPUScraper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
