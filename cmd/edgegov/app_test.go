package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/config"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/mitigation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// testConfig describes a host with 8GB of memory, two cores with cpufreq
// governors, a hot CPU zone and no GPU.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	proc, sys := t.TempDir(), t.TempDir()

	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal: 8192000 kB\nMemFree: 4096000 kB\nMemAvailable: 6144000 kB\n")
	writeFile(t, filepath.Join(proc, "stat"), "cpu  1 0 1 8 0 0 0 0 0 0\n")
	writeFile(t, filepath.Join(proc, "uptime"), "100.00 300.00\n")
	for _, cpu := range []string{"cpu0", "cpu1"} {
		writeFile(t, filepath.Join(sys, "devices/system/cpu", cpu, "cpufreq/scaling_governor"), "ondemand\n")
	}
	writeFile(t, filepath.Join(sys, "class/thermal/thermal_zone0/type"), "CPU-therm\n")
	writeFile(t, filepath.Join(sys, "class/thermal/thermal_zone0/temp"), "91500\n")

	return &config.Config{
		Interval:           5,
		GPUInterval:        2,
		StatsInterval:      5,
		InventoryInterval:  3600,
		MemoryHigh:         6000,
		MemoryLow:          3000,
		GPUHigh:            85,
		CPUHigh:            85,
		GPUThrottleTemp:    80,
		CPUThrottleTemp:    80,
		MemoryTrigger:      "level",
		HeavyProcesses:     []string{"python"},
		HeavyProcessMB:     1000,
		TopProcesses:       5,
		PowerSaveGovernor:  "powersave",
		GPUDefaultGovernor: "simple_ondemand",
		CPUDefaultGovernor: "ondemand",
		GPUBackend:         "none",
		CPUWindowMS:        -1,
		DiskPath:           t.TempDir(),
		ProcRoot:           proc,
		SysRoot:            sys,
		LogDir:             filepath.Join(t.TempDir(), "logs"),
		LogLevel:           "info",
	}
}

func TestLoopsPerMonitorSet(t *testing.T) {
	cases := []struct {
		set   monitorSet
		loops int
		files []string
	}{
		{monitorAll, 3, []string{logsink.ResourceLog, logsink.GPULog, logsink.StatsLog}},
		{monitorResources, 1, []string{logsink.ResourceLog}},
		{monitorGPU, 1, []string{logsink.GPULog}},
		{monitorStats, 1, []string{logsink.StatsLog}},
	}

	for _, tc := range cases {
		cfg := testConfig(t)
		a, err := newApp(cfg, clock.NewFake(time.Unix(0, 0)))
		require.NoError(t, err)

		loops, err := a.loops(tc.set)
		require.NoError(t, err)
		assert.Len(t, loops, tc.loops)
		for _, name := range tc.files {
			assert.FileExists(t, filepath.Join(cfg.LogDir, name))
		}
		a.close()
	}
}

func TestResourceMonitorThrottlesAndRestoresOnClose(t *testing.T) {
	cfg := testConfig(t)
	fake := clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))

	a, err := newApp(cfg, fake)
	require.NoError(t, err)

	m, err := a.resourceMonitor()
	require.NoError(t, err)
	m.Tick(context.Background())

	assert.Equal(t, mitigation.Throttled, m.CPUThermal.State())
	gov := filepath.Join(cfg.SysRoot, "devices/system/cpu/cpu1/cpufreq/scaling_governor")
	assert.Equal(t, "powersave", readFile(t, gov))

	a.close()
	assert.Equal(t, "ondemand", readFile(t, gov))

	out := readFile(t, filepath.Join(cfg.LogDir, logsink.ResourceLog))
	assert.Contains(t, out, "2024-05-01 08:00:00 INFO Memory: 2000/8000MB (25%) | CPU: 20% | CPU temp: 91°C")
	assert.Contains(t, out, "WARNING CPU temperature 91°C exceeds 80°C, switching governor to powersave")
	assert.Contains(t, out, "System inventory:")
	assert.NotContains(t, out, "High memory usage")
}

func TestGPUMonitorWithoutGPU(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	defer a.close()

	m, err := a.gpuMonitor()
	require.NoError(t, err)
	m.Tick(context.Background())
	m.Tick(context.Background())

	out := readFile(t, filepath.Join(cfg.LogDir, logsink.GPULog))
	assert.Equal(t, 2, strings.Count(out, "INFO GPU: N/A | Freq: N/A | GPU temp: N/A"))
	assert.Equal(t, mitigation.Normal, m.GPUThermal.State())
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "edgegov dev\n", buf.String())
}

func TestRunRejectsInvalidMemoryBand(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"resources", "--memory-high", "3000", "--memory-low", "3000"})
	t.Setenv("EDGEGOV_CONFIG", "")

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory_low must be below memory_high")
}
