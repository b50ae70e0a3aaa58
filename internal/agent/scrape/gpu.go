package scrape

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

const (
	GPUModeAuto   = "auto"
	GPUModeOff    = "off"
	GPUModeNvidia = "nvidia"
)

var nvidiaSmiArgs = []string{
	"--query-gpu=index,name,utilization.gpu,memory.used,memory.total,temperature.gpu",
	"--format=csv,noheader,nounits",
}

// runCommand is the exec seam; tests replace it to feed canned output.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPUScraper shells out to nvidia-smi. In auto mode a missing binary
// silently disables the scraper; in nvidia mode the failure is surfaced
// through Err. Individual malformed CSV lines are skipped, a failed run
// yields nil so the rest of the snapshot survives.
type GPUScraper struct {
	mode string
	run  runCommand

	mu       sync.Mutex
	disabled bool
	lastErr  error
}

func NewGPUScraper(mode string) *GPUScraper {
	if mode == "" {
		mode = GPUModeAuto
	}
	return &GPUScraper{mode: mode, run: execCommand}
}

func (s *GPUScraper) Name() string { return "gpu" }

func (s *GPUScraper) Scrape(ctx context.Context) []domain.GPUInfo {
	if s.mode == GPUModeOff {
		return nil
	}

	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	out, err := s.run(ctx, "nvidia-smi", nvidiaSmiArgs...)
	if err != nil {
		s.mu.Lock()
		if s.mode == GPUModeAuto {
			// no driver on this box, stop trying
			s.disabled = true
			s.lastErr = nil
		} else {
			s.lastErr = err
		}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()

	return parseNvidiaSmi(string(out))
}

func (s *GPUScraper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *GPUScraper) isDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func parseNvidiaSmi(out string) []domain.GPUInfo {
	var gpus []domain.GPUInfo

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 6 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		index, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		gpus = append(gpus, domain.GPUInfo{
			Index:        index,
			Name:         fields[1],
			UtilPct:      parseFloatField(fields[2]),
			MemUsedMB:    parseIntField(fields[3]),
			MemTotalMB:   parseIntField(fields[4]),
			TemperatureC: parseFloatField(fields[5]),
		})
	}

	return gpus
}

// nvidia-smi reports "[N/A]" or "[Not Supported]" for fields a card
// cannot measure; those become nil.
func parseFloatField(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntField(s string) *int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
