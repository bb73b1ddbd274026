package replication

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParseStreamParamsLiteral(t *testing.T) {
	props, warnings := ParseStreamParams("a=1;b;c=3")
	if len(warnings) != 1 || warnings[0] != "b" {
		t.Fatalf("expected one warning for %q, got %v", "b", warnings)
	}
	if props["a"] != "1" || props["c"] != "3" {
		t.Fatalf("unexpected properties: %#v", props)
	}
	if _, ok := props["b"]; ok {
		t.Fatalf("malformed pair must not appear in properties")
	}
}

// every well-formed "k=v" pair generated survives the parse unharmed,
// regardless of how many malformed pairs are interleaved with it.
func TestParseStreamParamsWellFormedSurvives(t *testing.T) {
	keyChars := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9_-]{0,8}`)
	valChars := rapid.StringMatching(`[a-zA-Z0-9_.-]{0,8}`)

	rapid.Check(t, func(t *rapid.T) {
		key := keyChars.Draw(t, "key")
		val := valChars.Draw(t, "val")
		n := rapid.IntRange(0, 3).Draw(t, "junk")

		parts := []string{key + "=" + val}
		for i := 0; i < n; i++ {
			parts = append(parts, "junk-no-equals")
		}

		props, warnings := ParseStreamParams(joinSemi(parts))
		if props[key] != val {
			t.Fatalf("expected %s=%s to survive, got %#v", key, val, props)
		}
		if len(warnings) != n {
			t.Fatalf("expected %d warnings, got %d (%v)", n, len(warnings), warnings)
		}
	})
}

func joinSemi(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ";"
		}
		out += p
	}
	return out
}
