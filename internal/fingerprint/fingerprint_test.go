package fingerprint

import (
	"strings"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("cv text", "job text", "en")
	b := Fingerprint("cv text", "job text", "en")
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("My CV", "The Job", "en")
	if got := Fingerprint("  my cv  ", "the job", "EN "); got != base {
		t.Fatalf("case/whitespace variants should collapse to one key")
	}
	if got := Fingerprint("my cv!", "the job", "en"); got == base {
		t.Fatalf("different content must yield a different key")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	if Fingerprint("ab", "c", "en") == Fingerprint("a", "bc", "en") {
		t.Fatalf("field boundary must participate in the hash")
	}
}

func TestFingerprintLargeInput(t *testing.T) {
	big := strings.Repeat("lorem ipsum dolor sit amet ", 4000)
	a := Fingerprint(big, "job", "en")
	b := Fingerprint(big+"x", "job", "en")
	if a == b {
		t.Fatalf("tail of a large input must affect the fingerprint")
	}
}
