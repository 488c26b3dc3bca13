package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewService(Config{Enabled: true, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s, ok := c.(*service)
	require.True(t, ok)
	return s
}

func TestDisabledIsNoop(t *testing.T) {
	c, err := NewService(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &noopMetricsCollector{}, c)

	c.ObserveSample(telemetry.Sample{})
	c.SetThrottled("gpu", true)
	c.IncMitigation("memory", ActionDropCaches)
	c.IncInventory()
	assert.NoError(t, c.Close())
}

func TestValidate(t *testing.T) {
	err := Config{Enabled: true}.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidAddr))

	reg := prometheus.NewRegistry()
	assert.Error(t, Config{Enabled: true, Registerer: reg}.Validate())
	assert.NoError(t, Config{Enabled: true, Addr: ":9100"}.Validate())
}

func TestObserveSampleSkipsUnavailable(t *testing.T) {
	s := newTestService(t)

	s.ObserveSample(telemetry.Sample{
		MemoryUsedMB:  6500,
		MemoryTotalMB: 7807,
		CPUBusyPct:    40,
		GPULoadPct:    telemetry.Unavailable,
		GPUFreqMHz:    telemetry.Unavailable,
		GPUTempC:      -3,
		CPUTempC:      telemetry.Unavailable,
	})

	assert.Equal(t, 6500.0, testutil.ToFloat64(s.memoryUsed))
	assert.Equal(t, 7807.0, testutil.ToFloat64(s.memoryTotal))
	assert.Equal(t, 40.0, testutil.ToFloat64(s.cpuBusy))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.gpuLoad))
	assert.Equal(t, -3.0, testutil.ToFloat64(s.gpuTemp))
}

func TestThrottleAndCounters(t *testing.T) {
	s := newTestService(t)

	s.SetThrottled("gpu", true)
	s.SetThrottled("cpu", false)
	s.IncMitigation("memory", ActionDropCaches)
	s.IncMitigation("memory", ActionDropCaches)
	s.IncMitigation("gpu", ActionPowerSave)
	s.IncInventory()

	assert.Equal(t, 1.0, testutil.ToFloat64(s.throttled.WithLabelValues("gpu")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.throttled.WithLabelValues("cpu")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.mitigations.WithLabelValues("memory", ActionDropCaches)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.mitigations.WithLabelValues("gpu", ActionPowerSave)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.inventories))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewService(Config{Enabled: true, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)

	_, err = NewService(Config{Enabled: true, Registerer: reg, Gatherer: reg})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrRegisterFailed))
}

func TestScrapeEndpoint(t *testing.T) {
	c, err := NewService(Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	s := c.(*service)
	s.SetThrottled("gpu", true)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + s.listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `edgegov_throttled{dimension="gpu"} 1`)

	require.NoError(t, c.Close())
}
