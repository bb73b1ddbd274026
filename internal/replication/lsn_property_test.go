package replication

import (
	"testing"

	"pgregory.net/rapid"
)

func TestLSNRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.Uint64().Draw(t, "raw")
		lsn := LSNFromUint64(raw)

		parsed, err := ParseLSN(FormatLSN(lsn))
		if err != nil {
			t.Fatalf("parse(format(%d)) failed: %v", raw, err)
		}
		if Uint64(parsed) != raw {
			t.Fatalf("round trip mismatch: got %d, want %d", Uint64(parsed), raw)
		}
	})
}

func TestParseLSNRejectsGarbage(t *testing.T) {
	cases := []string{"", "not-an-lsn", "16/", "/B374D848", "zz/zz"}
	for _, c := range cases {
		if _, err := ParseLSN(c); err == nil {
			t.Fatalf("expected ParseLSN(%q) to fail", c)
		}
	}
}
