package replication

import "errors"

// Sentinel errors for the replication core's error taxonomy. Callers should
// match against these with errors.Is rather than string comparison.
var (
	// ErrBadLsnFormat is returned when an LSN's textual form cannot be parsed.
	ErrBadLsnFormat = errors.New("malformed lsn")

	// ErrSlotBusy is returned when a slot already has an active consumer.
	ErrSlotBusy = errors.New("replication slot is already active")

	// ErrNotAReplicationConnection is returned when IDENTIFY_SYSTEM produces
	// no result row, meaning the connection was not opened in replication mode.
	ErrNotAReplicationConnection = errors.New("connection is not a replication connection")

	// ErrWalGone is returned when the requested starting LSN is behind the
	// server's WAL retention horizon.
	ErrWalGone = errors.New("requested wal segment has already been removed")

	// ErrDecoderOptionRejected is returned when the server rejects a decoder
	// startup option and no further downgrade is possible.
	ErrDecoderOptionRejected = errors.New("decoder rejected startup option")

	// ErrConnectionLost is returned when the transport fails during streaming.
	ErrConnectionLost = errors.New("replication connection lost")

	// ErrInternal covers unexpected conditions during construction.
	ErrInternal = errors.New("internal replication error")

	// ErrSlotNotFound is returned by ControlConnection lookups against a
	// slot that does not exist on the server.
	ErrSlotNotFound = errors.New("replication slot not found")
)

// OptionRejectedError carries the server's raw error text for a rejected
// decoder startup option, alongside the option set that was attempted.
type OptionRejectedError struct {
	Option string
	Server string
}

func (e *OptionRejectedError) Error() string {
	if e == nil {
		return ErrDecoderOptionRejected.Error()
	}
	msg := ErrDecoderOptionRejected.Error()
	if e.Option != "" {
		msg += ": option=" + e.Option
	}
	if e.Server != "" {
		msg += ": server=" + e.Server
	}
	return msg
}

func (e *OptionRejectedError) Unwrap() error {
	return ErrDecoderOptionRejected
}

// AsOptionRejected extracts an OptionRejectedError from an error chain.
func AsOptionRejected(err error) (*OptionRejectedError, bool) {
	var rejected *OptionRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
