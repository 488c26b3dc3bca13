package telemetry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/gpu"
	"codeberg.org/mutker/edgegov/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfo = `MemTotal:        7995060 kB
MemFree:          412000 kB
MemAvailable:    1340000 kB
Buffers:          100000 kB
Cached:          1200000 kB
SwapTotal:       3997520 kB
SwapFree:        3997520 kB
`

type stubGPU struct {
	load, freq, temp int
	ok               bool
}

func (g stubGPU) Name() string              { return "stub" }
func (g stubGPU) Load() (int, bool)         { return g.load, g.ok }
func (g stubGPU) FrequencyMHz() (int, bool) { return g.freq, g.ok }
func (g stubGPU) TemperatureC() (int, bool) { return g.temp, g.ok }
func (g stubGPU) Processes() []gpu.Process  { return []gpu.Process{{PID: 7}} }
func (g stubGPU) Close() error              { return nil }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func addZone(t *testing.T, sys string, idx int, typ, temp string) {
	t.Helper()
	dir := filepath.Join(sys, "class/thermal", "thermal_zone"+string(rune('0'+idx)))
	writeFile(t, filepath.Join(dir, "type"), typ+"\n")
	if temp != "" {
		writeFile(t, filepath.Join(dir, "temp"), temp+"\n")
	}
}

func newSource(t *testing.T, proc, sys string, g gpu.Reader) *telemetry.Source {
	t.Helper()
	return telemetry.New(telemetry.Options{
		ProcRoot:  proc,
		SysRoot:   sys,
		GPU:       g,
		Clock:     clock.NewFake(time.Unix(1700000000, 0)),
		CPUWindow: -1,
	})
}

func TestMemory(t *testing.T) {
	proc := t.TempDir()
	writeFile(t, filepath.Join(proc, "meminfo"), meminfo)

	used, total := newSource(t, proc, t.TempDir(), nil).Memory()
	assert.Equal(t, (7995060-1340000)/1024, used)
	assert.Equal(t, 7995060/1024, total)
}

func TestMemoryWithoutMemAvailable(t *testing.T) {
	proc := t.TempDir()
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal: 2048000 kB\nMemFree: 1024000 kB\nBuffers: 0 kB\nCached: 0 kB\n")

	used, total := newSource(t, proc, t.TempDir(), nil).Memory()
	assert.Equal(t, 1000, used)
	assert.Equal(t, 2000, total)
}

func TestMissingSourcesAreUnavailable(t *testing.T) {
	src := newSource(t, t.TempDir(), t.TempDir(), nil)

	used, total := src.Memory()
	assert.Equal(t, telemetry.Unavailable, used)
	assert.Equal(t, telemetry.Unavailable, total)
	assert.Equal(t, telemetry.Unavailable, src.CPUBusyPercent(context.Background()))
	assert.Equal(t, telemetry.Unavailable, src.GPULoad())
	assert.Equal(t, telemetry.Unavailable, src.GPUFrequency())
	assert.Equal(t, telemetry.Unavailable, src.ThermalZone(telemetry.KindGPU))
	assert.Equal(t, telemetry.Unavailable, src.ThermalZone(telemetry.KindCPU))
	assert.Empty(t, src.ThermalZones())
	assert.Equal(t, telemetry.Unavailable, src.DiskUsedPercent(filepath.Join(t.TempDir(), "absent")))

	s := src.Sample(context.Background())
	assert.False(t, telemetry.Available(s.MemoryUsedMB))
	assert.False(t, telemetry.Available(s.GPUTempC))
}

func TestCPUBusySinceBoot(t *testing.T) {
	proc := t.TempDir()
	// busy = 300+0+100+0+0+0 = 400, idle = 550+50 = 600 -> 40%
	writeFile(t, filepath.Join(proc, "stat"), "cpu  300 0 100 550 50 0 0 0 0 0\ncpu0 300 0 100 550 50 0 0 0 0 0\n")

	assert.Equal(t, 40, newSource(t, proc, t.TempDir(), nil).CPUBusyPercent(context.Background()))
}

func TestCPUBusyOverWindowTruncates(t *testing.T) {
	proc := t.TempDir()
	statPath := filepath.Join(proc, "stat")
	writeFile(t, statPath, "cpu  100 0 0 100 0 0 0 0 0 0\n")

	fake := clock.NewFake(time.Unix(1700000000, 0))
	src := telemetry.New(telemetry.Options{ProcRoot: proc, SysRoot: t.TempDir(), Clock: fake, CPUWindow: time.Second})

	result := make(chan int, 1)
	go func() { result <- src.CPUBusyPercent(context.Background()) }()

	fake.WaitForWaiters(1)
	// +2 busy, +1 idle over the window -> 66.6% truncated to 66
	writeFile(t, statPath, "cpu  102 0 0 101 0 0 0 0 0 0\n")
	fake.Advance(time.Second)

	select {
	case got := <-result:
		assert.Equal(t, 66, got)
	case <-time.After(time.Second):
		t.Fatal("CPU sampling did not complete")
	}
}

func TestCPUBusyCancelled(t *testing.T) {
	proc := t.TempDir()
	writeFile(t, filepath.Join(proc, "stat"), "cpu  100 0 0 100 0 0 0 0 0 0\n")

	src := telemetry.New(telemetry.Options{ProcRoot: proc, SysRoot: t.TempDir(), Clock: clock.NewFake(time.Now()), CPUWindow: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, telemetry.Unavailable, src.CPUBusyPercent(ctx))
}

func TestThermalZones(t *testing.T) {
	sys := t.TempDir()
	addZone(t, sys, 0, "AO-therm", "41500")
	addZone(t, sys, 1, "CPU-therm", "45999")
	addZone(t, sys, 2, "GPU-therm", "82500")
	addZone(t, sys, 3, "PMIC-Die", "")

	src := newSource(t, t.TempDir(), sys, nil)

	assert.Equal(t, 45, src.ThermalZone(telemetry.KindCPU))
	assert.Equal(t, 82, src.ThermalZone(telemetry.KindGPU))
	assert.Equal(t, 82, src.ThermalZone("gpu"))

	zones := src.ThermalZones()
	require.Len(t, zones, 4)
	assert.Equal(t, telemetry.Zone{Name: "thermal_zone0", Type: "AO-therm", TempC: 41}, zones[0])
	assert.Equal(t, telemetry.Unavailable, zones[3].TempC)
}

func TestNegativeTemperatureIsAReading(t *testing.T) {
	sys := t.TempDir()
	addZone(t, sys, 0, "CPU-therm", "-1500")

	got := newSource(t, t.TempDir(), sys, nil).ThermalZone(telemetry.KindCPU)
	assert.True(t, telemetry.Available(got))
	assert.Equal(t, -1, got)
}

func TestGPUTemperatureFallsBackToBackend(t *testing.T) {
	src := newSource(t, t.TempDir(), t.TempDir(), stubGPU{temp: 71, ok: true})
	assert.Equal(t, 71, src.ThermalZone(telemetry.KindGPU))
	assert.Equal(t, telemetry.Unavailable, src.ThermalZone(telemetry.KindCPU))
}

func TestGPUReadings(t *testing.T) {
	src := newSource(t, t.TempDir(), t.TempDir(), stubGPU{load: 130, freq: 921, ok: true})
	assert.Equal(t, 100, src.GPULoad())
	assert.Equal(t, 921, src.GPUFrequency())

	src = newSource(t, t.TempDir(), t.TempDir(), stubGPU{ok: false})
	assert.Equal(t, telemetry.Unavailable, src.GPULoad())
}

func TestSample(t *testing.T) {
	proc, sys := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(proc, "meminfo"), meminfo)
	writeFile(t, filepath.Join(proc, "stat"), "cpu  1 0 0 3 0 0 0 0 0 0\n")
	addZone(t, sys, 0, "GPU-therm", "60000")
	addZone(t, sys, 1, "CPU-therm", "50000")

	s := newSource(t, proc, sys, stubGPU{load: 30, freq: 600, ok: true}).Sample(context.Background())

	assert.Equal(t, time.Unix(1700000000, 0), s.Timestamp)
	assert.Equal(t, 6499, s.MemoryUsedMB)
	assert.Equal(t, 7807, s.MemoryTotalMB)
	assert.Equal(t, 25, s.CPUBusyPct)
	assert.Equal(t, 30, s.GPULoadPct)
	assert.Equal(t, 600, s.GPUFreqMHz)
	assert.Equal(t, 60, s.GPUTempC)
	assert.Equal(t, 50, s.CPUTempC)
}

func TestDiskUsedPercent(t *testing.T) {
	pct := newSource(t, t.TempDir(), t.TempDir(), nil).DiskUsedPercent(t.TempDir())
	require.True(t, telemetry.Available(pct))
	assert.GreaterOrEqual(t, pct, 0)
	assert.LessOrEqual(t, pct, 100)
}
