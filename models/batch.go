package models

import (
	"path"
	"strings"
	"time"
)

const (
	rawObjectPrefix = "coingecko_raw_"
	rawObjectExt    = ".json"
	batchTimeLayout = "20060102150405"
)

// BatchIDFor builds the staging identifier for a fetch that completed at t.
// The identifier doubles as the raw object's file name.
func BatchIDFor(t time.Time) string {
	return rawObjectPrefix + t.UTC().Format(batchTimeLayout) + rawObjectExt
}

// IsRawObjectKey reports whether key names a staged raw batch.
func IsRawObjectKey(key string) bool {
	return strings.HasSuffix(key, rawObjectExt)
}

// BatchTime extracts the fetch time embedded in a staged object key.
func BatchTime(key string) (time.Time, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, rawObjectPrefix) || !strings.HasSuffix(name, rawObjectExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, rawObjectPrefix), rawObjectExt)
	t, err := time.Parse(batchTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
