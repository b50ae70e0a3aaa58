package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

func TestParseNvidiaSmi(t *testing.T) {
	out := `0, NVIDIA GeForce RTX 4090, 35, 8000, 24576, 61
1, NVIDIA GeForce RTX 4090, 90, 12000, 24576, 74
`
	gpus := parseNvidiaSmi(out)
	require.Len(t, gpus, 2)

	assert.Equal(t, 0, gpus[0].Index)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpus[0].Name)
	require.NotNil(t, gpus[0].UtilPct)
	assert.Equal(t, 35.0, *gpus[0].UtilPct)
	require.NotNil(t, gpus[0].MemUsedMB)
	assert.Equal(t, int64(8000), *gpus[0].MemUsedMB)
	require.NotNil(t, gpus[0].MemTotalMB)
	assert.Equal(t, int64(24576), *gpus[0].MemTotalMB)
	require.NotNil(t, gpus[0].TemperatureC)
	assert.Equal(t, 61.0, *gpus[0].TemperatureC)

	assert.Equal(t, 1, gpus[1].Index)
	assert.Equal(t, 90.0, *gpus[1].UtilPct)
}

func TestParseNvidiaSmiUnsupportedFields(t *testing.T) {
	out := "0, Tesla K80, [Not Supported], 100, 11441, [N/A]\n"

	gpus := parseNvidiaSmi(out)
	require.Len(t, gpus, 1)

	assert.Nil(t, gpus[0].UtilPct)
	assert.Nil(t, gpus[0].TemperatureC)
	require.NotNil(t, gpus[0].MemUsedMB)
	assert.Equal(t, int64(100), *gpus[0].MemUsedMB)
}

func TestParseNvidiaSmiSkipsMalformedLines(t *testing.T) {
	out := `garbage line
0, RTX 3080, 10, 500, 10240, 40
not,enough,fields
`
	gpus := parseNvidiaSmi(out)
	require.Len(t, gpus, 1)
	assert.Equal(t, 0, gpus[0].Index)
}

func TestGPUScraperAutoDisablesOnMissingBinary(t *testing.T) {
	s := NewGPUScraper(GPUModeAuto)
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exec: nvidia-smi: not found")
	}

	assert.Nil(t, s.Scrape(context.Background()))
	assert.True(t, s.isDisabled())
	assert.NoError(t, s.Err())

	// once disabled the binary is not probed again
	called := false
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		called = true
		return nil, errors.New("should not run")
	}
	assert.Nil(t, s.Scrape(context.Background()))
	assert.False(t, called)
}

func TestGPUScraperNvidiaModeSurfacesError(t *testing.T) {
	s := NewGPUScraper(GPUModeNvidia)
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("boom")
	}

	assert.Nil(t, s.Scrape(context.Background()))
	assert.False(t, s.isDisabled())
	assert.Error(t, s.Err())
}

func TestGPUScraperOffMode(t *testing.T) {
	s := NewGPUScraper(GPUModeOff)
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("off mode must not exec")
		return nil, nil
	}
	assert.Nil(t, s.Scrape(context.Background()))
}

func TestServiceScraperParsesShowOutput(t *testing.T) {
	s := NewServiceScraper([]string{"nginx.service", "postgresql.service"})
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "systemctl", name)
		require.Equal(t, "show", args[0])
		switch args[1] {
		case "nginx.service":
			return []byte("ActiveState=active\nSubState=running\n"), nil
		case "postgresql.service":
			return []byte("ActiveState=failed\nSubState=failed\n"), nil
		}
		return nil, errors.New("unexpected unit")
	}

	infos := s.Scrape(context.Background())
	require.Len(t, infos, 2)

	assert.Equal(t, "nginx.service", infos[0].Name)
	assert.Equal(t, domain.ServiceStateActive, infos[0].ActiveState)
	assert.Equal(t, "running", infos[0].SubState)
	assert.Equal(t, domain.ServiceStateFailed, infos[1].ActiveState)
	assert.NoError(t, s.Err())
}

func TestServiceScraperUnknownOnFailure(t *testing.T) {
	s := NewServiceScraper([]string{"ghost.service"})
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("dbus unavailable")
	}

	infos := s.Scrape(context.Background())
	require.Len(t, infos, 1)
	assert.Equal(t, domain.ServiceStateUnknown, infos[0].ActiveState)
	assert.Error(t, s.Err())
}

func TestServiceScraperCatalog(t *testing.T) {
	s := NewServiceScraper(nil)
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if args[0] == "list-units" {
			return []byte(`nginx.service loaded active running A high performance web server
ssh.service loaded active running OpenBSD Secure Shell server
cron.service loaded inactive dead Regular background program processing daemon
`), nil
		}
		if args[0] == "is-enabled" {
			if args[1] == "nginx.service" {
				return []byte("enabled\n"), nil
			}
			return []byte("disabled\n"), nil
		}
		return nil, errors.New("unexpected command")
	}

	items, err := s.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "nginx.service", items[0].Name)
	assert.Equal(t, "active", items[0].ActiveState)
	assert.True(t, items[0].Enabled)
	assert.Equal(t, "A high performance web server", items[0].Description)

	assert.Equal(t, "cron.service", items[2].Name)
	assert.Equal(t, "inactive", items[2].ActiveState)
	assert.False(t, items[2].Enabled)
}

func TestScraperSnapshotSurvivesBrokenCollectors(t *testing.T) {
	s := New("node-a", []string{"/"}, GPUModeOff, nil)
	s.services.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("no systemd here")
	}

	snap := s.Snapshot(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, "node-a", snap.NodeID)
	assert.NotEmpty(t, snap.TS)
	assert.True(t, strings.HasSuffix(snap.TS, "Z"))
	// first CPU call has no delta baseline
	assert.Nil(t, snap.CPUPct)
}

func TestScraperHealthGrades(t *testing.T) {
	s := New("node-a", []string{"/"}, GPUModeAuto, []string{"nginx.service"})
	s.gpu.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("no nvidia-smi")
	}
	s.services.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("ActiveState=active\nSubState=running\n"), nil
	}

	s.Snapshot(context.Background())

	checks := s.Health()
	assert.Equal(t, "ok", checks["cpu"].Status)
	assert.Equal(t, "ok", checks["services"].Status)
	assert.Equal(t, "degraded", checks["gpu"].Status)
}
