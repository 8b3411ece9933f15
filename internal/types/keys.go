package types

import (
	"fmt"
	"regexp"
	"strconv"
)

// Resource keys scope the ingestion lock to the unit's blast radius:
// a line-wide resync locks the cruise line, a single-sailing update locks
// just that sailing.

// LineResourceKey returns the lock key for a cruise-line-wide resync.
func LineResourceKey(lineID int) string {
	return fmt.Sprintf("line:%d", lineID)
}

// SailingResourceKey returns the lock key for a single sailing.
func SailingResourceKey(sailingID int) string {
	return fmt.Sprintf("sailing:%d", sailingID)
}

// filePathPattern matches the hierarchical path convention used by the
// remote file server: {year}/{month}/{lineId}/{shipId}/{sailingId}.json
var filePathPattern = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d+)/(\d+)/(\d+)\.json$`)

// FilePathParts is the decomposition of a source file path.
type FilePathParts struct {
	Year      int
	Month     int
	LineID    int
	ShipID    int
	SailingID int
}

// ParseFilePath decomposes a relative source file path. It returns an error
// for paths that do not follow the convention; such paths are rejected at
// the notification boundary before a unit is ever enqueued.
func ParseFilePath(path string) (FilePathParts, error) {
	m := filePathPattern.FindStringSubmatch(path)
	if m == nil {
		return FilePathParts{}, fmt.Errorf("path %q does not match {year}/{month}/{lineId}/{shipId}/{sailingId}.json", path)
	}
	// The pattern guarantees numeric groups; Atoi cannot fail here.
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	lineID, _ := strconv.Atoi(m[3])
	shipID, _ := strconv.Atoi(m[4])
	sailingID, _ := strconv.Atoi(m[5])

	if month < 1 || month > 12 {
		return FilePathParts{}, fmt.Errorf("path %q has out-of-range month %d", path, month)
	}

	return FilePathParts{
		Year:      year,
		Month:     month,
		LineID:    lineID,
		ShipID:    shipID,
		SailingID: sailingID,
	}, nil
}

// SourceFilePath builds the relative path for a sailing per the file server's
// path convention.
func SourceFilePath(year, month, lineID, shipID, sailingID int) string {
	return fmt.Sprintf("%d/%02d/%d/%d/%d.json", year, month, lineID, shipID, sailingID)
}
