package replication

import "context"

// DecodedMessage is one logical message handed from a MessageDecoder to a
// MessageProcessor. The core never inspects its fields; it only moves the
// value from one side of the interface to the other.
type DecodedMessage struct {
	LSN       LSN
	Operation string
	Payload   []byte
}

// MessageProcessor receives decoded logical messages. Implementations are
// supplied by the caller, not the core.
type MessageProcessor interface {
	Process(ctx context.Context, msg DecodedMessage) error
}

// MessageDecoder is the pluggable capability that turns raw XLogData bytes
// into DecodedMessage values for a specific output plugin (pgoutput,
// wal2json, decoderbufs, ...). The core drives the interface; it never
// implements decoding itself.
//
// The two-stage option negotiation in ReplicationSession.StartStreaming
// calls TryOnceOptions only on the first attempt at opening a stream, then
// falls back to the steady-state option sets on retry.
type MessageDecoder interface {
	// TryOnceOptions returns startup options to attempt only once, appended
	// to whichever steady-state set below is chosen. Decoders that have no
	// optimistic options return args unchanged.
	TryOnceOptions(args []string) []string

	// OptionsWithMetadata returns the steady-state startup options used
	// when the server will be asked to emit metadata describing the change
	// stream (e.g. replica identity columns).
	OptionsWithMetadata(args []string) []string

	// OptionsWithoutMetadata returns the steady-state startup options used
	// when metadata has been rejected or force-disabled.
	OptionsWithoutMetadata(args []string) []string

	// SetContainsMetadata informs the decoder which option set won
	// negotiation, so ProcessMessage parses frames accordingly.
	SetContainsMetadata(contains bool)

	// ForceDisableMetadata reports whether this decoder must always run in
	// metadata-less mode regardless of negotiation (the forceRds case).
	ForceDisableMetadata() bool

	// ProcessMessage parses one XLogData payload and delivers zero or more
	// DecodedMessage values to processor.
	ProcessMessage(ctx context.Context, walStart LSN, data []byte, processor MessageProcessor) error
}
