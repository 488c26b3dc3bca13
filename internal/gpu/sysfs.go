package gpu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// loadCandidates are the sysfs locations of the integrated GPU load file
// on Jetson-class boards, relative to the sysfs root. The file reports
// per-mille utilization.
var loadCandidates = []string{
	"devices/gpu.0/load",
	"devices/platform/gpu.0/load",
	"devices/platform/*.gv11b/load",
	"devices/platform/*.ga10b/load",
	"devices/platform/*.gpu/load",
}

// sysfsReader reads the integrated GPU through its sysfs pseudo-files.
type sysfsReader struct {
	loadPath    string
	devfreqPath string
}

func newSysfsReader(sysRoot, devfreqOverride string) (*sysfsReader, bool) {
	loadPath := firstMatch(sysRoot, loadCandidates)
	if loadPath == "" {
		return nil, false
	}

	devfreq := devfreqOverride
	if devfreq == "" {
		devfreq = findDevfreq(sysRoot, filepath.Dir(loadPath))
	}

	return &sysfsReader{loadPath: loadPath, devfreqPath: devfreq}, true
}

func (r *sysfsReader) Name() string {
	return filepath.Base(filepath.Dir(r.loadPath))
}

func (r *sysfsReader) Load() (int, bool) {
	perMille, ok := ReadInt(r.loadPath)
	if !ok {
		return 0, false
	}

	return int(perMille / 10), true
}

func (r *sysfsReader) FrequencyMHz() (int, bool) {
	if r.devfreqPath == "" {
		return 0, false
	}

	hz, ok := ReadInt(filepath.Join(r.devfreqPath, "cur_freq"))
	if !ok {
		return 0, false
	}

	return int(hz / 1_000_000), true
}

// TemperatureC is served by the GPU thermal zone, not the GPU node.
func (r *sysfsReader) TemperatureC() (int, bool) {
	return 0, false
}

func (r *sysfsReader) Processes() []Process {
	return nil
}

func (r *sysfsReader) Close() error {
	return nil
}

// GovernorPath returns the devfreq governor control file, or "" when the
// GPU has no devfreq node.
func (r *sysfsReader) GovernorPath() string {
	if r.devfreqPath == "" {
		return ""
	}

	return filepath.Join(r.devfreqPath, "governor")
}

// findDevfreq locates the devfreq directory of the GPU: first beneath the
// GPU device node, then among the devfreq class entries.
func findDevfreq(sysRoot, gpuDir string) string {
	if matches, _ := filepath.Glob(filepath.Join(gpuDir, "devfreq", "*")); len(matches) > 0 {
		return matches[0]
	}

	matches, _ := filepath.Glob(filepath.Join(sysRoot, "class/devfreq/*"))
	for _, m := range matches {
		name := filepath.Base(m)
		for _, hint := range []string{"gpu", "gv11b", "ga10b", "gp10b", "gm20b"} {
			if strings.Contains(name, hint) {
				return m
			}
		}
	}

	return ""
}

func firstMatch(root string, patterns []string) string {
	for _, p := range patterns {
		matches, _ := filepath.Glob(filepath.Join(root, p))
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				return m
			}
		}
	}

	return ""
}

// ReadInt reads a sysfs file holding a single integer.
func ReadInt(path string) (int64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
