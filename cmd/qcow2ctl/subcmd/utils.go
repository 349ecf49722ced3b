package subcmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreimg/qcow2engine/blockdev"
)

// parseSize parses a human size string like "64m" or "4g" into bytes.
// Valid unit suffixes are k, m, g, t.
func parseSize(sizeStr string) (uint64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if len(sizeStr) < 2 {
		return 0, fmt.Errorf("invalid size %q", sizeStr)
	}
	valStr := sizeStr[:len(sizeStr)-1]
	unit := strings.ToLower(sizeStr[len(sizeStr)-1:])

	val, err := strconv.ParseUint(valStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}

	switch unit {
	case "k":
		return val << 10, nil
	case "m":
		return val << 20, nil
	case "g":
		return val << 30, nil
	case "t":
		return val << 40, nil
	default:
		return 0, fmt.Errorf("invalid size unit %q (want k, m, g, or t)", unit)
	}
}

func openDevice(path string, readWrite bool) (*blockdev.FileDevice, error) {
	return blockdev.OpenFile(path, readWrite, false)
}
