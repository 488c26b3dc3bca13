// Package procs snapshots the process table from /proc for the mitigation
// diagnostics: memory and CPU rankings and per-name aggregation.
package procs

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const defaultClockTicks = 100

// Process is one entry of a process-table snapshot.
type Process struct {
	PID  int
	Name string
	// RSSBytes is the resident set size.
	RSSBytes uint64
	// CPUPercent is CPU time over process lifetime, as ps reports it.
	CPUPercent float64
}

// RSSMB returns the resident set size in whole megabytes.
func (p Process) RSSMB() int {
	return int(p.RSSBytes / (1024 * 1024))
}

// Table reads process snapshots from a procfs root.
type Table struct {
	procRoot   string
	pageSize   int
	clockTicks int
}

func NewTable(procRoot string) *Table {
	return &Table{procRoot: procRoot, pageSize: os.Getpagesize(), clockTicks: clockTicks()}
}

// clockTicks honours CLK_TCK, falling back to the common USER_HZ of 100;
// sysconf(_SC_CLK_TCK) would require cgo.
func clockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	return defaultClockTicks
}

// Snapshot reads every numeric /proc entry. Processes that exit while
// being read are skipped.
func (t *Table) Snapshot() ([]Process, error) {
	entries, err := os.ReadDir(t.procRoot)
	if err != nil {
		return nil, err
	}

	uptime := t.uptime()

	var out []Process
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}

		p, ok := t.read(pid, uptime)
		if !ok {
			continue
		}
		out = append(out, p)
	}

	return out, nil
}

func (t *Table) read(pid int, uptime float64) (Process, bool) {
	dir := filepath.Join(t.procRoot, strconv.Itoa(pid))

	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return Process{}, false
	}

	line := string(stat)
	open := strings.IndexByte(line, '(')
	closing := strings.LastIndex(line, ") ")
	if open < 0 || closing < open {
		return Process{}, false
	}

	p := Process{PID: pid, Name: line[open+1 : closing]}
	if comm, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
		p.Name = strings.TrimSpace(string(comm))
	}

	// Fields after "pid (comm) ": state is index 0, utime 11, stime 12,
	// starttime 19.
	fields := strings.Fields(line[closing+2:])
	if len(fields) > 19 && uptime > 0 {
		utime, _ := strconv.ParseUint(fields[11], 10, 64)
		stime, _ := strconv.ParseUint(fields[12], 10, 64)
		start, _ := strconv.ParseUint(fields[19], 10, 64)

		ticks := float64(t.clockTicks)
		elapsed := uptime - float64(start)/ticks
		if elapsed > 0 {
			p.CPUPercent = float64(utime+stime) / ticks / elapsed * 100
		}
	}

	p.RSSBytes = t.rss(dir)

	return p, true
}

// rss prefers statm's resident page count, falling back to VmRSS.
func (t *Table) rss(dir string) uint64 {
	if b, err := os.ReadFile(filepath.Join(dir, "statm")); err == nil {
		if fs := strings.Fields(string(b)); len(fs) >= 2 {
			if pages, err := strconv.ParseUint(fs[1], 10, 64); err == nil {
				return pages * uint64(t.pageSize)
			}
		}
	}

	f, err := os.Open(filepath.Join(dir, "status"))
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if !strings.HasPrefix(sc.Text(), "VmRSS:") {
			continue
		}
		if fs := strings.Fields(sc.Text()); len(fs) >= 2 {
			kb, _ := strconv.ParseUint(fs[1], 10, 64)
			return kb * 1024
		}
	}

	return 0
}

func (t *Table) uptime() float64 {
	b, err := os.ReadFile(filepath.Join(t.procRoot, "uptime"))
	if err != nil {
		return 0
	}

	fs := strings.Fields(string(b))
	if len(fs) == 0 {
		return 0
	}

	v, _ := strconv.ParseFloat(fs[0], 64)

	return v
}

// TopByMemory returns up to n processes ordered by descending RSS.
func TopByMemory(ps []Process, n int) []Process {
	return top(ps, n, func(a, b Process) bool {
		if a.RSSBytes != b.RSSBytes {
			return a.RSSBytes > b.RSSBytes
		}
		return a.PID < b.PID
	})
}

// TopByCPU returns up to n processes ordered by descending CPU share.
func TopByCPU(ps []Process, n int) []Process {
	return top(ps, n, func(a, b Process) bool {
		if a.CPUPercent != b.CPUPercent {
			return a.CPUPercent > b.CPUPercent
		}
		return a.PID < b.PID
	})
}

func top(ps []Process, n int, less func(a, b Process) bool) []Process {
	sorted := make([]Process, len(ps))
	copy(sorted, ps)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}

	return sorted
}

// Group aggregates the processes sharing a name.
type Group struct {
	Name      string
	Processes []Process
	RSSBytes  uint64
}

// RSSMB returns the aggregate resident set size in whole megabytes.
func (g Group) RSSMB() int {
	return int(g.RSSBytes / (1024 * 1024))
}

// GroupByName aggregates processes whose name starts with one of prefixes,
// keyed by prefix and ordered by descending aggregate RSS.
func GroupByName(ps []Process, prefixes []string) []Group {
	groups := make(map[string]*Group)
	for _, p := range ps {
		for _, prefix := range prefixes {
			if prefix == "" || !strings.HasPrefix(p.Name, prefix) {
				continue
			}
			g, ok := groups[prefix]
			if !ok {
				g = &Group{Name: prefix}
				groups[prefix] = g
			}
			g.Processes = append(g.Processes, p)
			g.RSSBytes += p.RSSBytes
			break
		}
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		g.Processes = TopByMemory(g.Processes, -1)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSBytes != out[j].RSSBytes {
			return out[i].RSSBytes > out[j].RSSBytes
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// Lookup returns the name of pid, or "" if it is gone.
func (t *Table) Lookup(pid int) string {
	b, err := os.ReadFile(filepath.Join(t.procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
