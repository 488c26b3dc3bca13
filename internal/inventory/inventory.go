// Package inventory collects the coarse-cadence system snapshot: kernel,
// toolkit and driver versions, disk usage and a memory breakdown.
package inventory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"codeberg.org/mutker/edgegov/internal/telemetry"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

const unknown = "unknown"

// Options locates the files the snapshot reads.
type Options struct {
	// RootFS prefixes /etc, /usr and /opt lookups.
	RootFS   string
	ProcRoot string
	DiskPath string
	// Kernel returns the running kernel release; defaults to uname(2).
	Kernel func() string
	// Versions returns the GPU driver and CUDA driver versions, if known.
	Versions func() (driver, cuda string)
}

func (o Options) withDefaults() Options {
	if o.RootFS == "" {
		o.RootFS = "/"
	}
	if o.ProcRoot == "" {
		o.ProcRoot = "/proc"
	}
	if o.DiskPath == "" {
		o.DiskPath = "/"
	}
	if o.Kernel == nil {
		o.Kernel = unameRelease
	}
	return o
}

// Disk is the usage of one filesystem.
type Disk struct {
	Path        string
	TotalBytes  uint64
	UsedBytes   uint64
	UsedPercent int
}

// Snapshot is one inventory reading. Absent versions are "unknown".
type Snapshot struct {
	Kernel     string
	L4T        string
	CUDA       string
	DeepStream string
	Driver     string
	CUDADriver string
	Disk       *Disk
	// MemInfo is /proc/meminfo in kB.
	MemInfo map[string]uint64
}

// Gather reads every inventory source. Missing sources never fail it.
func Gather(opts Options) Snapshot {
	opts = opts.withDefaults()

	s := Snapshot{
		Kernel:     orUnknown(opts.Kernel()),
		L4T:        orUnknown(l4tRelease(filepath.Join(opts.RootFS, "etc/nv_tegra_release"))),
		CUDA:       orUnknown(cudaVersion(filepath.Join(opts.RootFS, "usr/local/cuda"))),
		DeepStream: orUnknown(deepStreamVersion(filepath.Join(opts.RootFS, "opt/nvidia/deepstream/deepstream"))),
		Driver:     unknown,
		CUDADriver: unknown,
		Disk:       diskUsage(opts.DiskPath),
	}

	if opts.Versions != nil {
		driver, cuda := opts.Versions()
		s.Driver, s.CUDADriver = orUnknown(driver), orUnknown(cuda)
	}

	if info, ok := telemetry.ReadMemInfo(opts.ProcRoot); ok {
		s.MemInfo = info
	}

	return s
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func unameRelease() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}

var l4tPattern = regexp.MustCompile(`R(\d+) \(release\), REVISION: ([\d.]+)`)

// l4tRelease parses the Jetson Linux release header, e.g.
// "# R35 (release), REVISION: 4.1, GCID: ..." into "R35.4.1".
func l4tRelease(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return ""
	}

	m := l4tPattern.FindStringSubmatch(sc.Text())
	if m == nil {
		return strings.TrimSpace(strings.TrimPrefix(sc.Text(), "#"))
	}

	return "R" + m[1] + "." + m[2]
}

// cudaVersion reads version.json (CUDA 11+) and falls back to version.txt.
func cudaVersion(dir string) string {
	if b, err := os.ReadFile(filepath.Join(dir, "version.json")); err == nil {
		var v struct {
			CUDA struct {
				Version string `json:"version"`
			} `json:"cuda"`
		}
		if json.Unmarshal(b, &v) == nil && v.CUDA.Version != "" {
			return v.CUDA.Version
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "version.txt"))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(b)), "CUDA Version"))
}

func deepStreamVersion(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, "version"))
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(b), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Version:"); ok {
			return strings.TrimSpace(v)
		}
	}

	return ""
}

func diskUsage(path string) *Disk {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil
	}

	bsize := uint64(st.Bsize)
	used := (st.Blocks - st.Bfree) * bsize
	avail := st.Bavail * bsize
	if used+avail == 0 {
		return nil
	}

	return &Disk{
		Path:        path,
		TotalBytes:  st.Blocks * bsize,
		UsedBytes:   used,
		UsedPercent: int(used * 100 / (used + avail)),
	}
}

var memInfoKeys = []string{
	"MemTotal", "MemFree", "MemAvailable", "Buffers", "Cached",
	"Shmem", "SwapTotal", "SwapFree", "CmaTotal", "CmaFree",
}

// Lines renders the snapshot for the log block.
func (s Snapshot) Lines() []string {
	lines := []string{
		"Kernel: " + s.Kernel,
		"L4T: " + s.L4T,
		"CUDA: " + s.CUDA,
		"DeepStream: " + s.DeepStream,
		"GPU driver: " + s.Driver + " (CUDA driver " + s.CUDADriver + ")",
	}

	if s.Disk != nil {
		lines = append(lines, fmt.Sprintf("Disk %s: %s used of %s (%d%%)",
			s.Disk.Path, humanize.IBytes(s.Disk.UsedBytes), humanize.IBytes(s.Disk.TotalBytes), s.Disk.UsedPercent))
	} else {
		lines = append(lines, "Disk: N/A")
	}

	if s.MemInfo == nil {
		return append(lines, "Memory: N/A")
	}

	for _, key := range memInfoKeys {
		if kb, ok := s.MemInfo[key]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", key, humanize.IBytes(kb*1024)))
		}
	}

	return lines
}
