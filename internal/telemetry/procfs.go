package telemetry

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadMemInfo parses <procRoot>/meminfo into a map of kB values.
func ReadMemInfo(procRoot string) (map[string]uint64, bool) {
	f, err := os.Open(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	info := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		info[key] = v
	}

	return info, sc.Err() == nil && len(info) > 0
}

// cpuStat holds cumulative jiffies from the aggregate cpu line.
type cpuStat struct {
	busy uint64
	idle uint64
}

// readCPUStat parses the aggregate line of <procRoot>/stat:
//
//	cpu  user nice system idle iowait irq softirq steal ...
//
// busy = user + nice + system + irq + softirq + steal, idle = idle + iowait.
func readCPUStat(procRoot string) (cpuStat, bool) {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return cpuStat{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		if len(fields) < 9 {
			return cpuStat{}, false
		}

		vals := make([]uint64, 8)
		for i := range vals {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return cpuStat{}, false
			}
			vals[i] = v
		}

		return cpuStat{
			busy: vals[0] + vals[1] + vals[2] + vals[5] + vals[6] + vals[7],
			idle: vals[3] + vals[4],
		}, true
	}

	return cpuStat{}, false
}

// busyPercent computes the truncated busy share between two readings.
// A wrapped or unchanged counter yields Unavailable.
func busyPercent(prev, cur cpuStat) int {
	if cur.busy < prev.busy || cur.idle < prev.idle {
		return Unavailable
	}

	busy := cur.busy - prev.busy
	total := busy + cur.idle - prev.idle
	if total == 0 {
		return Unavailable
	}

	return int(busy * 100 / total)
}
