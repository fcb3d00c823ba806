package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseWatchPosition splits a "marketId:address" watch entry.
func ParseWatchPosition(s string) (int64, string, error) {
	idPart, addr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || addr == "" {
		return 0, "", fmt.Errorf("watch position %q: want marketId:address", s)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 0 {
		return 0, "", fmt.Errorf("watch position %q: bad market id", s)
	}
	return id, strings.TrimSpace(addr), nil
}
