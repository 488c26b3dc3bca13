package inventory

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func jetsonRoot(t *testing.T) Options {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "etc/nv_tegra_release"),
		"# R35 (release), REVISION: 4.1, GCID: 33958178, BOARD: t186ref, EABI: aarch64, DATE: Tue Aug  1 19:57:35 UTC 2023\n")
	writeFile(t, filepath.Join(root, "usr/local/cuda/version.json"),
		`{"cuda": {"name": "CUDA SDK", "version": "11.4.19"}}`)
	writeFile(t, filepath.Join(root, "opt/nvidia/deepstream/deepstream/version"), "Version: 6.3\n")
	writeFile(t, filepath.Join(root, "proc/meminfo"),
		"MemTotal:        7994356 kB\nMemFree:          512000 kB\nMemAvailable:    1338716 kB\nCached:          1048576 kB\n")

	return Options{
		RootFS:   root,
		ProcRoot: filepath.Join(root, "proc"),
		DiskPath: root,
		Kernel:   func() string { return "5.10.120-tegra" },
	}
}

func TestGatherJetson(t *testing.T) {
	s := Gather(jetsonRoot(t))

	assert.Equal(t, "5.10.120-tegra", s.Kernel)
	assert.Equal(t, "R35.4.1", s.L4T)
	assert.Equal(t, "11.4.19", s.CUDA)
	assert.Equal(t, "6.3", s.DeepStream)
	assert.Equal(t, "unknown", s.Driver)
	require.NotNil(t, s.Disk)
	assert.Equal(t, uint64(7994356), s.MemInfo["MemTotal"])

	lines := s.Lines()
	assert.Contains(t, lines, "L4T: R35.4.1")
	assert.Contains(t, lines, "MemTotal: 7.6 GiB")
	assert.Contains(t, lines, "Cached: 1.0 GiB")
}

func TestGatherDiscreteGPU(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "usr/local/cuda/version.txt"), "CUDA Version 10.2.89\n")

	s := Gather(Options{
		RootFS:   root,
		ProcRoot: filepath.Join(root, "proc"),
		DiskPath: filepath.Join(root, "absent"),
		Kernel:   func() string { return "" },
		Versions: func() (string, string) { return "535.104.05", "12.2" },
	})

	assert.Equal(t, "unknown", s.Kernel)
	assert.Equal(t, "unknown", s.L4T)
	assert.Equal(t, "10.2.89", s.CUDA)
	assert.Equal(t, "535.104.05", s.Driver)
	assert.Equal(t, "12.2", s.CUDADriver)
	assert.Nil(t, s.Disk)
	assert.Nil(t, s.MemInfo)

	lines := s.Lines()
	assert.Contains(t, lines, "GPU driver: 535.104.05 (CUDA driver 12.2)")
	assert.Contains(t, lines, "Disk: N/A")
	assert.Contains(t, lines, "Memory: N/A")
}

func TestCollectorCadence(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)
	var buf bytes.Buffer

	c := NewCollector(time.Hour, fake, jetsonRoot(t), logsink.New(&buf, fake), nil)

	fired := 0
	// 5s sampling cycles for a little over two hours.
	for i := 0; i <= 2*720+1; i++ {
		if c.MaybeCollect() {
			fired++
		}
		fake.Advance(5 * time.Second)
	}

	assert.Equal(t, 3, fired, "at start, +1h and +2h")
	assert.Equal(t, 3, strings.Count(buf.String(), "System inventory:"))
}

func TestCollectorDue(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCollector(time.Hour, clock.NewFake(start), Options{}, nil, nil)

	assert.True(t, c.Due(start))
	c.MarkFired(start)
	assert.False(t, c.Due(start.Add(59*time.Minute)))
	assert.True(t, c.Due(start.Add(time.Hour)))
}

func TestCollectorWritesOneBlock(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var buf bytes.Buffer

	c := NewCollector(time.Hour, fake, jetsonRoot(t), logsink.New(&buf, fake), nil)
	require.True(t, c.MaybeCollect())

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "2024-01-01 00:00:00"))
	assert.Contains(t, out, "INFO System inventory:\n  Kernel: 5.10.120-tegra\n  L4T: R35.4.1")
}
