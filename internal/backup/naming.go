package backup

import (
	"strings"
	"time"
)

// ArchiveTimeLayout is the timestamp embedded in archive names. It carries
// second resolution and avoids characters that are invalid in file names.
const ArchiveTimeLayout = "2006-01-02T15-04-05"

// ArchiveName returns "<world>_<timestamp>.zip" for a backup taken at t.
func ArchiveName(worldName string, t time.Time) string {
	return worldName + "_" + t.Local().Format(ArchiveTimeLayout) + "." + ArchiveExtension
}

// ParseArchiveName splits an archive file name into world name and capture
// time. World names may themselves contain underscores.
func ParseArchiveName(name string) (worldName string, capturedAt time.Time, ok bool) {
	base, found := strings.CutSuffix(name, "."+ArchiveExtension)
	if !found {
		return "", time.Time{}, false
	}

	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return "", time.Time{}, false
	}

	t, err := time.ParseInLocation(ArchiveTimeLayout, base[idx+1:], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:idx], t, true
}
