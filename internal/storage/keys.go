// Package storage – object key derivation.
//
// Keys follow the fixed convention stories/<unix-millis>-<filename>, which
// keeps uploads grouped under one prefix, sortable by time, and traceable to
// the original filename.
package storage

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const keyPrefix = "stories"

// ObjectKey derives the storage key for an uploaded image. The filename is
// NFC-normalized (browsers on macOS tend to send decomposed unicode) and
// stripped of path separators so a crafted name cannot escape the prefix.
func ObjectKey(filename string, now time.Time) string {
	name := norm.NFC.String(strings.TrimSpace(filename))
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "image.jpg"
	}
	return fmt.Sprintf("%s/%d-%s", keyPrefix, now.UnixMilli(), name)
}
