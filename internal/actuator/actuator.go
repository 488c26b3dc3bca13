// Package actuator writes the host-wide control files the mitigation
// controllers act through: frequency governors and the page cache.
package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeberg.org/mutker/edgegov/internal/errors"
	"golang.org/x/sys/unix"
)

// CPUGovernorGlob matches every per-core cpufreq governor file under a sysfs root.
const CPUGovernorGlob = "devices/system/cpu/cpu[0-9]*/cpufreq/scaling_governor"

// FileGovernor drives one or more governor control files as a unit.
// The observed mode is read from the first file; writes go to all of them.
type FileGovernor struct {
	paths []string
}

// NewFileGovernor returns a governor over paths, ignoring empty entries.
// It returns nil if no path remains.
func NewFileGovernor(paths ...string) *FileGovernor {
	var kept []string
	for _, p := range paths {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	return &FileGovernor{paths: kept}
}

// CPUGovernor returns the governor over all per-core cpufreq files, or nil
// if the host exposes none.
func CPUGovernor(sysRoot string) *FileGovernor {
	matches, _ := filepath.Glob(filepath.Join(sysRoot, CPUGovernorGlob))
	sort.Strings(matches)

	return NewFileGovernor(matches...)
}

// Paths returns the control files in write order.
func (g *FileGovernor) Paths() []string {
	return append([]string(nil), g.paths...)
}

// Mode returns the current governor of the first file.
func (g *FileGovernor) Mode() (string, bool) {
	b, err := os.ReadFile(g.paths[0])
	if err != nil {
		return "", false
	}

	mode := strings.TrimSpace(string(b))

	return mode, mode != ""
}

// SetMode writes mode to every control file. All files are attempted; the
// first failure is returned.
func (g *FileGovernor) SetMode(mode string) error {
	errFactory := errors.New()

	var first error
	for _, p := range g.paths {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
		if err == nil {
			_, err = f.WriteString(mode)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}
		if err != nil && first == nil {
			first = errFactory.Wrap(errors.ErrSetGov, fmt.Errorf("%s: %w", p, err))
		}
	}

	return first
}

// CacheDropper evicts the page cache, dentries and inodes.
type CacheDropper struct {
	path string
	sync func()
}

// NewCacheDropper returns a dropper writing to <procRoot>/sys/vm/drop_caches.
func NewCacheDropper(procRoot string) *CacheDropper {
	return &CacheDropper{
		path: filepath.Join(procRoot, "sys", "vm", "drop_caches"),
		sync: unix.Sync,
	}
}

// DropCaches flushes dirty pages and then drops clean caches. Repeated
// calls hold no state and leak nothing.
func (d *CacheDropper) DropCaches() error {
	d.sync()

	f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
	if err != nil {
		return errors.New().Wrap(errors.ErrDropCache, err)
	}
	defer f.Close()

	if _, err := f.WriteString("3"); err != nil {
		return errors.New().Wrap(errors.ErrDropCache, err)
	}

	return nil
}

// Renice sets the scheduling niceness of pid. Lowering priority needs no
// privilege for processes of the same user.
func Renice(pid, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return errors.New().Wrap(errors.ErrRenice, fmt.Errorf("pid %d: %w", pid, err))
	}
	return nil
}
