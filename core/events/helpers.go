package events

import (
	"strconv"
	"strings"
	"time"
)

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
