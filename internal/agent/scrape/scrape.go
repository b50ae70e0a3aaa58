package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// Scraper fans out to the individual collectors and assembles a
// snapshot. Collectors run concurrently and fail independently: a
// broken one contributes a nil or empty section, never an error for
// the whole snapshot.
type Scraper struct {
	nodeID   string
	cpu      *CPUScraper
	disk     *DiskScraper
	gpu      *GPUScraper
	services *ServiceScraper
}

func New(nodeID string, disks []string, gpuMode string, serviceUnits []string) *Scraper {
	return &Scraper{
		nodeID:   nodeID,
		cpu:      NewCPUScraper(),
		disk:     NewDiskScraper(disks),
		gpu:      NewGPUScraper(gpuMode),
		services: NewServiceScraper(serviceUnits),
	}
}

func (s *Scraper) Snapshot(ctx context.Context) *domain.Snapshot {
	snap := &domain.Snapshot{
		NodeID: s.nodeID,
		TS:     domain.FormatTimestamp(time.Now()),
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		snap.CPUPct = s.cpu.Scrape(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Disks = s.disk.Scrape(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.GPUs = s.gpu.Scrape(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Services = s.services.Scrape(ctx)
	}()

	wg.Wait()
	return snap
}

// Catalog proxies the systemd unit listing.
func (s *Scraper) Catalog(ctx context.Context) ([]domain.ServiceCatalogItem, error) {
	return s.services.Catalog(ctx)
}

// CheckStatus grades one collector for the health report.
type CheckStatus struct {
	Status string `json:"status"` // ok|degraded|error
	Detail string `json:"detail,omitempty"`
}

// Health reports per-collector status from the most recent scrape.
func (s *Scraper) Health() map[string]CheckStatus {
	checks := make(map[string]CheckStatus, 4)

	grade := func(name string, err error) {
		if err != nil {
			checks[name] = CheckStatus{Status: "error", Detail: err.Error()}
			return
		}
		checks[name] = CheckStatus{Status: "ok"}
	}

	grade("cpu", s.cpu.Err())
	grade("disk", s.disk.Err())
	grade("services", s.services.Err())

	switch {
	case s.gpu.mode == GPUModeOff:
		checks["gpu"] = CheckStatus{Status: "ok", Detail: "disabled"}
	case s.gpu.isDisabled():
		checks["gpu"] = CheckStatus{Status: "degraded", Detail: "nvidia-smi not available"}
	default:
		grade("gpu", s.gpu.Err())
	}

	return checks
}
