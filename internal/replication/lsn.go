package replication

import (
	"fmt"

	"github.com/jackc/pglogrepl"
)

// LSN is a Postgres-style log sequence number: a monotonic byte offset
// into the write-ahead log. Zero means "unset".
type LSN = pglogrepl.LSN

// ParseLSN parses the textual "XXXX/YYYY" form of an LSN. It wraps the
// driver's own parser, mapping failures to ErrBadLsnFormat; this package's
// tests pin its behavior so a driver upgrade that changes parsing surfaces
// as a test failure here rather than silently downstream.
func ParseLSN(text string) (LSN, error) {
	lsn, err := pglogrepl.ParseLSN(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrBadLsnFormat, text, err)
	}
	return lsn, nil
}

// FormatLSN renders an LSN in the server's textual form.
func FormatLSN(lsn LSN) string {
	return lsn.String()
}

// LSNFromUint64 reinterprets a raw 64-bit WAL offset as an LSN.
func LSNFromUint64(v uint64) LSN {
	return LSN(v)
}

// Uint64 returns the raw WAL offset backing an LSN.
func Uint64(lsn LSN) uint64 {
	return uint64(lsn)
}
