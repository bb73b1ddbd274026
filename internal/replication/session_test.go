package replication

import (
	"errors"
	"testing"
)

func TestIsOptionUnknownErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New(`ERROR: option "include-metadata" is unknown`), true},
		{errors.New(`ERROR: requested WAL segment 000000010000000000000001 has already been removed`), false},
		{errors.New("connection reset by peer"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isOptionUnknownErr(c.err); got != c.want {
			t.Fatalf("isOptionUnknownErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestIsWalGoneErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New(`ERROR: requested WAL segment 000000010000000000000001 has already been removed`), true},
		{errors.New(`ERROR: option "include-metadata" is unknown`), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isWalGoneErr(c.err); got != c.want {
			t.Fatalf("isWalGoneErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestPluginArgs_MetadataToggle(t *testing.T) {
	session := &ReplicationSession{cfg: SessionConfig{
		StreamParams: map[string]string{"proto_version": "1"},
	}}

	withMeta := session.pluginArgs(true, true)
	if !containsArg(withMeta, "include-metadata 'true'") {
		t.Fatalf("expected metadata option present, got %v", withMeta)
	}

	withoutMeta := session.pluginArgs(false, true)
	if containsArg(withoutMeta, "include-metadata 'true'") {
		t.Fatalf("expected metadata option absent, got %v", withoutMeta)
	}
	if !containsArg(withoutMeta, "proto_version '1'") {
		t.Fatalf("expected stream param forwarded, got %v", withoutMeta)
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
