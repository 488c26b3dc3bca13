package telemetry

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ThermalZones returns every readable thermal zone, ordered by zone name.
// Temperatures are raw millidegrees divided by 1000, remainder discarded.
func (s *Source) ThermalZones() []Zone {
	dirs, _ := filepath.Glob(filepath.Join(s.sysRoot, "class/thermal/thermal_zone*"))
	sort.Slice(dirs, func(i, j int) bool {
		return zoneIndex(dirs[i]) < zoneIndex(dirs[j])
	})

	zones := make([]Zone, 0, len(dirs))
	for _, dir := range dirs {
		typ, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil {
			continue
		}

		zone := Zone{
			Name:  filepath.Base(dir),
			Type:  strings.TrimSpace(string(typ)),
			TempC: Unavailable,
		}
		if raw, err := os.ReadFile(filepath.Join(dir, "temp")); err == nil {
			if milli, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); err == nil {
				zone.TempC = int(milli / 1000)
			}
		}
		zones = append(zones, zone)
	}

	return zones
}

func matchesKind(zoneType, kind string) bool {
	return strings.Contains(strings.ToUpper(zoneType), strings.ToUpper(kind))
}

func zoneIndex(dir string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "thermal_zone"))
	if err != nil {
		return -1
	}
	return n
}
