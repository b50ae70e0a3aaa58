package rollup

import (
	"math"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// Aggregate reduces one server's buffered samples to an hourly row.
// Rates (CPU, GPU utilisation) get a mean and a peak over the non-nil
// samples; level metrics (disk, GPU memory) take the last non-nil
// value, the end-of-hour level is what capacity planning wants. A
// metric no sample reported stays NULL.
func Aggregate(serverID int64, ts string, entries []domain.BufferEntry) *domain.HourlySample {
	if len(entries) == 0 {
		return nil
	}

	sample := &domain.HourlySample{
		ServerID: serverID,
		TS:       ts,
	}

	sample.CPUPctAvg, sample.CPUPctMax = meanAndMax(entries, func(e domain.BufferEntry) *float64 {
		return e.CPUPct
	})
	sample.GPUUtilPctAvg, sample.GPUUtilPctMax = meanAndMax(entries, func(e domain.BufferEntry) *float64 {
		return e.GPUUtilPct
	})

	for i := len(entries) - 1; i >= 0; i-- {
		if sample.DiskUsedPct == nil && entries[i].DiskUsedPct != nil {
			sample.DiskUsedPct = entries[i].DiskUsedPct
		}
		if sample.DiskUsedBytes == nil && entries[i].DiskUsedBytes != nil {
			sample.DiskUsedBytes = entries[i].DiskUsedBytes
		}
		if sample.DiskTotalBytes == nil && entries[i].DiskTotalBytes != nil {
			sample.DiskTotalBytes = entries[i].DiskTotalBytes
		}
		if sample.GPUMemUsedMB == nil && entries[i].GPUMemUsedMB != nil {
			sample.GPUMemUsedMB = entries[i].GPUMemUsedMB
		}
		if sample.GPUMemTotalMB == nil && entries[i].GPUMemTotalMB != nil {
			sample.GPUMemTotalMB = entries[i].GPUMemTotalMB
		}
	}

	return sample
}

func meanAndMax(entries []domain.BufferEntry, pick func(domain.BufferEntry) *float64) (*float64, *float64) {
	var sum, max float64
	var n int

	for _, e := range entries {
		v := pick(e)
		if v == nil {
			continue
		}
		sum += *v
		if n == 0 || *v > max {
			max = *v
		}
		n++
	}

	if n == 0 {
		return nil, nil
	}
	avg := round2(sum / float64(n))
	peak := round2(max)
	return &avg, &peak
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
