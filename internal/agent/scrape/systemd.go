package scrape

import (
	"context"
	"strings"
	"sync"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// ServiceScraper queries systemd for the state of an allowlisted set of
// units. Units are queried concurrently; a unit systemctl cannot answer
// for is reported with unknown states rather than dropped, so the
// aggregator still sees it in the snapshot.
type ServiceScraper struct {
	units []string
	run   runCommand

	mu      sync.Mutex
	lastErr error
}

func NewServiceScraper(units []string) *ServiceScraper {
	return &ServiceScraper{units: units, run: execCommand}
}

func (s *ServiceScraper) Name() string { return "services" }

func (s *ServiceScraper) Scrape(ctx context.Context) []domain.ServiceInfo {
	if len(s.units) == 0 {
		return nil
	}

	out := make([]domain.ServiceInfo, len(s.units))

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for i, unit := range s.units {
		wg.Add(1)
		go func(i int, unit string) {
			defer wg.Done()
			info, err := s.queryUnit(ctx, unit)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			out[i] = info
		}(i, unit)
	}
	wg.Wait()

	s.mu.Lock()
	s.lastErr = firstErr
	s.mu.Unlock()

	return out
}

func (s *ServiceScraper) queryUnit(ctx context.Context, unit string) (domain.ServiceInfo, error) {
	info := domain.ServiceInfo{
		Name:        unit,
		ActiveState: domain.ServiceStateUnknown,
		SubState:    domain.ServiceStateUnknown,
	}

	raw, err := s.run(ctx, "systemctl", "show", unit,
		"--property=ActiveState,SubState", "--no-pager")
	if err != nil {
		return info, err
	}

	for _, line := range strings.Split(string(raw), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "ActiveState":
			if value != "" {
				info.ActiveState = value
			}
		case "SubState":
			if value != "" {
				info.SubState = value
			}
		}
	}

	return info, nil
}

func (s *ServiceScraper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Catalog lists every service unit systemd knows about, with its
// enablement, for the central UI's service picker.
func (s *ServiceScraper) Catalog(ctx context.Context) ([]domain.ServiceCatalogItem, error) {
	raw, err := s.run(ctx, "systemctl", "list-units",
		"--type=service", "--all", "--no-legend", "--no-pager", "--plain")
	if err != nil {
		return nil, err
	}

	var items []domain.ServiceCatalogItem
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// UNIT LOAD ACTIVE SUB DESCRIPTION...
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ".service") {
			continue
		}
		item := domain.ServiceCatalogItem{
			Name:        fields[0],
			ActiveState: fields[2],
		}
		if len(fields) > 4 {
			item.Description = strings.Join(fields[4:], " ")
		}
		items = append(items, item)
	}

	// enablement is a separate query per unit; best-effort, a unit
	// is-enabled refuses to answer for stays disabled
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.run(ctx, "systemctl", "is-enabled", items[i].Name)
			if err == nil && strings.TrimSpace(string(out)) == "enabled" {
				items[i].Enabled = true
			}
		}(i)
	}
	wg.Wait()

	return items, nil
}
