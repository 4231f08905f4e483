package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateHashIDIsDeterministic(t *testing.T) {
	ts := time.Date(2025, 6, 7, 8, 9, 10, 11_000_000, time.UTC)

	for _, length := range []int{3, 4, 5, 6, 7, 8} {
		a := GenerateHashID("ann", "note on retry loop", "flaky under load", "session-42", ts, length, 0)
		b := GenerateHashID("ann", "note on retry loop", "flaky under load", "session-42", ts, length, 0)
		if a != b {
			t.Fatalf("length %d: same inputs produced %s and %s", length, a, b)
		}
		if !strings.HasPrefix(a, "ann-") {
			t.Fatalf("length %d: missing prefix: %s", length, a)
		}
		if got := len(strings.TrimPrefix(a, "ann-")); got != length {
			t.Fatalf("length %d: hash part has %d chars: %s", length, got, a)
		}
	}
}

func TestGenerateHashIDVariesWithInputs(t *testing.T) {
	ts := time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)
	base := GenerateHashID("dec", "choice", "context", "s1", ts, 8, 0)

	variants := []string{
		GenerateHashID("dec", "choice2", "context", "s1", ts, 8, 0),
		GenerateHashID("dec", "choice", "context2", "s1", ts, 8, 0),
		GenerateHashID("dec", "choice", "context", "s2", ts, 8, 0),
		GenerateHashID("dec", "choice", "context", "s1", ts.Add(time.Nanosecond), 8, 0),
		GenerateHashID("dec", "choice", "context", "s1", ts, 8, 1),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base id %s", i, base)
		}
	}
}

func TestEncodeBase36PadsAndTruncates(t *testing.T) {
	if got := EncodeBase36([]byte{0}, 4); got != "0000" {
		t.Fatalf("zero value: got %s", got)
	}
	// 36^3 = 46656 = 0xB640, which needs exactly four base36 digits
	// ("1000"); asking for three keeps the least significant ones.
	if got := EncodeBase36([]byte{0xB6, 0x40}, 3); got != "000" {
		t.Fatalf("truncation: got %s", got)
	}
	if got := EncodeBase36([]byte{35}, 1); got != "z" {
		t.Fatalf("single digit: got %s", got)
	}
}
