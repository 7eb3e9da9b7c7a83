package storage

import (
	"strings"
	"testing"
	"time"
)

func TestObjectKey_Format(t *testing.T) {
	at := time.UnixMilli(171)
	got := ObjectKey("cat.jpg", at)
	if got != "stories/171-cat.jpg" {
		t.Fatalf("ObjectKey = %q; want stories/171-cat.jpg", got)
	}
}

func TestObjectKey_StripsPathSeparators(t *testing.T) {
	at := time.UnixMilli(1)
	got := ObjectKey("../../etc/passwd", at)
	if strings.Contains(strings.TrimPrefix(got, "stories/"), "/") {
		t.Fatalf("key escapes prefix: %q", got)
	}
}

func TestObjectKey_EmptyFilename(t *testing.T) {
	got := ObjectKey("   ", time.UnixMilli(5))
	if got != "stories/5-image.jpg" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

func TestObjectKey_NormalizesUnicode(t *testing.T) {
	// "e" + combining acute (NFD) must normalize to the composed form.
	decomposed := "cafe\u0301.jpg"
	composed := "caf\u00e9.jpg"
	got := ObjectKey(decomposed, time.UnixMilli(9))
	if !strings.HasSuffix(got, composed) {
		t.Fatalf("ObjectKey = %q; want suffix %q", got, composed)
	}
}
