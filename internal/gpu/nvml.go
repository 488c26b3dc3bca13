package gpu

import (
	"fmt"

	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlController abstracts NVML library lifecycle for testing
type nvmlController interface {
	Initialize() error
	Shutdown() error
	GetDeviceCount() (int, error)
	GetDevice(index int) (nvmlDevice, error)
	Versions() (driver, cuda string)
}

type nvmlWrapper struct {
	initialized bool
}

func (w *nvmlWrapper) Initialize() error {
	errFactory := errors.New()
	if w.initialized {
		return nil
	}

	ret := nvml.Init()
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	w.initialized = true

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	errFactory := errors.New()
	if !w.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	w.initialized = false

	return nil
}

func (w *nvmlWrapper) GetDeviceCount() (int, error) {
	errFactory := errors.New()
	if !w.initialized {
		return 0, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	return count, nil
}

func (w *nvmlWrapper) GetDevice(index int) (nvmlDevice, error) {
	errFactory := errors.New()
	if !w.initialized {
		return nil, errFactory.New(ErrNotInitialized)
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	return device, nil
}

// Versions returns the driver and CUDA driver versions, empty when unknown.
func (w *nvmlWrapper) Versions() (driver, cuda string) {
	if !w.initialized {
		return "", ""
	}

	if v, ret := nvml.SystemGetDriverVersion(); IsNVMLSuccess(ret) {
		driver = v
	}
	if v, ret := nvml.SystemGetCudaDriverVersion(); IsNVMLSuccess(ret) {
		cuda = fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
	}

	return driver, cuda
}

// nvmlReader reads telemetry from the first NVML device.
type nvmlReader struct {
	lib    nvmlController
	device nvmlDevice
	name   string
}

func newNVMLReader(lib nvmlController) (*nvmlReader, error) {
	errFactory := errors.New()

	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	count, err := lib.GetDeviceCount()
	if err != nil {
		_ = lib.Shutdown()
		return nil, err
	}
	if count == 0 {
		_ = lib.Shutdown()
		return nil, errFactory.New(ErrDeviceNotFound)
	}

	device, err := lib.GetDevice(0)
	if err != nil {
		_ = lib.Shutdown()
		return nil, err
	}

	r := &nvmlReader{lib: lib, device: device, name: "nvidia"}
	if name, ret := device.GetName(); IsNVMLSuccess(ret) {
		r.name = name
	}

	return r, nil
}

func (r *nvmlReader) Name() string {
	return r.name
}

func (r *nvmlReader) Load() (int, bool) {
	util, ret := r.device.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, false
	}

	return int(util.Gpu), true
}

func (r *nvmlReader) FrequencyMHz() (int, bool) {
	mhz, ret := r.device.GetClockInfo(nvml.CLOCK_GRAPHICS)
	if !IsNVMLSuccess(ret) {
		return 0, false
	}

	return int(mhz), true
}

func (r *nvmlReader) TemperatureC() (int, bool) {
	temp, ret := r.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, false
	}

	return int(temp), true
}

func (r *nvmlReader) Processes() []Process {
	infos, ret := r.device.GetComputeRunningProcesses()
	if !IsNVMLSuccess(ret) {
		return nil
	}

	procs := make([]Process, 0, len(infos))
	for _, info := range infos {
		procs = append(procs, Process{PID: int(info.Pid), UsedMemoryBytes: info.UsedGpuMemory})
	}

	return procs
}

func (r *nvmlReader) Close() error {
	return r.lib.Shutdown()
}
