package poll

import (
	"math"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// DeriveLatest reduces a raw agent snapshot to the per-server summary
// the dashboard polls. GPU figures aggregate across cards, skipping
// fields a card failed to report: utilisation is the busiest card plus
// the fleet average, memory is summed.
func DeriveLatest(snap *domain.Snapshot) domain.LatestSnapshot {
	latest := domain.LatestSnapshot{
		TS:                  snap.TS,
		Online:              true,
		CPUPct:              snap.CPUPct,
		GPUCount:            len(snap.GPUs),
		GPUs:                snap.GPUs,
		ServicesFailedCount: snap.FailedServiceCount(),
	}

	// disk summary tracks the primary mount, the first one the agent
	// was configured with
	if len(snap.Disks) > 0 {
		d := snap.Disks[0]
		usedPct := d.UsedPct
		usedBytes := d.UsedBytes
		totalBytes := d.TotalBytes
		latest.DiskUsedPct = &usedPct
		latest.DiskUsedBytes = &usedBytes
		latest.DiskTotalBytes = &totalBytes
	}

	var utilSum, utilMax float64
	var utilN int
	var memUsed, memTotal int64
	var memUsedSeen, memTotalSeen bool

	for _, gpu := range snap.GPUs {
		if gpu.UtilPct != nil {
			utilSum += *gpu.UtilPct
			utilN++
			if *gpu.UtilPct > utilMax {
				utilMax = *gpu.UtilPct
			}
		}
		if gpu.MemUsedMB != nil {
			memUsed += *gpu.MemUsedMB
			memUsedSeen = true
		}
		if gpu.MemTotalMB != nil {
			memTotal += *gpu.MemTotalMB
			memTotalSeen = true
		}
	}

	if utilN > 0 {
		avg := round2(utilSum / float64(utilN))
		max := utilMax
		latest.GPUUtilPct = &max
		latest.GPUUtilPctAvg = &avg
	}
	if memUsedSeen {
		latest.GPUMemUsedMB = &memUsed
	}
	if memTotalSeen {
		latest.GPUMemTotalMB = &memTotal
	}

	return latest
}

// DeriveOffline produces the latest view after a failed pull. Metrics
// from the last good snapshot stay visible, only the online flag flips;
// a server that was never reached gets an empty offline row stamped
// now.
func DeriveOffline(prior *domain.LatestSnapshot, now time.Time) domain.LatestSnapshot {
	if prior == nil {
		return domain.LatestSnapshot{
			TS:     domain.FormatTimestamp(now),
			Online: false,
		}
	}
	offline := *prior
	offline.Online = false
	return offline
}

// BufferEntryFrom slices the rollup-relevant fields off a derived
// snapshot.
func BufferEntryFrom(latest domain.LatestSnapshot) domain.BufferEntry {
	return domain.BufferEntry{
		TS:             latest.TS,
		CPUPct:         latest.CPUPct,
		DiskUsedPct:    latest.DiskUsedPct,
		DiskUsedBytes:  latest.DiskUsedBytes,
		DiskTotalBytes: latest.DiskTotalBytes,
		GPUUtilPct:     latest.GPUUtilPct,
		GPUMemUsedMB:   latest.GPUMemUsedMB,
		GPUMemTotalMB:  latest.GPUMemTotalMB,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
