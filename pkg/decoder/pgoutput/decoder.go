// Package pgoutput implements replication.MessageDecoder for Postgres's
// built-in pgoutput logical decoding plugin. It is a sample decoder: the
// replication core itself never depends on this package, it only depends
// on the MessageDecoder interface this package implements.
package pgoutput

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/quillbyte/pgreplicate/internal/postgres"
	"github.com/quillbyte/pgreplicate/internal/replication"
)

// Decoder turns pgoutput XLogData payloads into
// replication.DecodedMessage values. It tracks RelationMessage
// definitions across calls, since Insert/Update/Delete frames reference a
// relation only by a numeric OID assigned by an earlier Relation frame.
type Decoder struct {
	publications  []string
	emitMessages  bool
	forceDisabled bool

	containsMetadata bool
	typeMap          *pgtype.Map

	mu        sync.Mutex
	relations map[uint32]*pglogrepl.RelationMessage
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithPublications sets the publication_names option forwarded to the
// server; pgoutput requires at least one.
func WithPublications(names ...string) Option {
	return func(d *Decoder) {
		d.publications = names
	}
}

// WithLogicalMessages enables forwarding of pg_logical_emit_message
// payloads (used for out-of-band DDL notifications) when metadata
// negotiation succeeds.
func WithLogicalMessages(enabled bool) Option {
	return func(d *Decoder) {
		d.emitMessages = enabled
	}
}

// WithForceDisableMetadata always reports ForceDisableMetadata() as true,
// for servers (e.g. certain managed Postgres offerings) known to reject
// the "messages" option regardless of version.
func WithForceDisableMetadata(force bool) Option {
	return func(d *Decoder) {
		d.forceDisabled = force
	}
}

// New returns a pgoutput Decoder. json/jsonb columns decode to raw
// json.RawMessage rather than being re-marshaled through Go structs, so a
// JSON column's on-the-wire bytes survive into the payload unchanged.
func New(opts ...Option) *Decoder {
	typeMap := pgtype.NewMap()
	postgres.RegisterRawJSONCodecs(typeMap)

	d := &Decoder{
		typeMap:   typeMap,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TryOnceOptions returns args unchanged: pgoutput has no optimistic,
// possibly-unsupported startup options of its own.
func (d *Decoder) TryOnceOptions(args []string) []string {
	return args
}

func (d *Decoder) baseArgs(args []string) []string {
	args = append(args, "proto_version '1'")
	for _, pub := range d.publications {
		args = append(args, fmt.Sprintf("publication_names '%s'", pub))
	}
	return args
}

// OptionsWithMetadata additionally requests logical decoding messages,
// when enabled, so DDL notifications sent via
// pg_logical_emit_message reach ProcessMessage.
func (d *Decoder) OptionsWithMetadata(args []string) []string {
	args = d.baseArgs(args)
	if d.emitMessages {
		args = append(args, "messages 'true'")
	}
	return args
}

// OptionsWithoutMetadata omits the messages option.
func (d *Decoder) OptionsWithoutMetadata(args []string) []string {
	return d.baseArgs(args)
}

func (d *Decoder) SetContainsMetadata(contains bool) {
	d.containsMetadata = contains
}

func (d *Decoder) ForceDisableMetadata() bool {
	return d.forceDisabled
}

// ProcessMessage parses one XLogData payload and delivers zero or more
// DecodedMessage values to processor. Relation frames are absorbed into
// the decoder's own state and never reach processor directly.
func (d *Decoder) ProcessMessage(ctx context.Context, walStart replication.LSN, data []byte, processor replication.MessageProcessor) error {
	logicalMsg, err := pglogrepl.Parse(data)
	if err != nil {
		return fmt.Errorf("parse pgoutput message: %w", err)
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		d.mu.Lock()
		d.relations[msg.RelationID] = msg
		d.mu.Unlock()
		return nil

	case *pglogrepl.InsertMessage:
		return d.emit(ctx, processor, walStart, "insert", msg.RelationID, msg.Tuple, nil)

	case *pglogrepl.UpdateMessage:
		return d.emit(ctx, processor, walStart, "update", msg.RelationID, msg.NewTuple, msg.OldTuple)

	case *pglogrepl.DeleteMessage:
		return d.emit(ctx, processor, walStart, "delete", msg.RelationID, msg.OldTuple, nil)

	case *pglogrepl.TruncateMessage:
		for _, relID := range msg.RelationIDs {
			if err := processor.Process(ctx, replication.DecodedMessage{
				LSN:       walStart,
				Operation: "truncate",
				Payload:   relationLabel(d.relationName(relID)),
			}); err != nil {
				return err
			}
		}
		return nil

	case *pglogrepl.LogicalDecodingMessage:
		if !d.containsMetadata {
			return nil
		}
		return processor.Process(ctx, replication.DecodedMessage{
			LSN:       walStart,
			Operation: "message",
			Payload:   append([]byte(msg.Prefix+":"), msg.Content...),
		})

	default:
		return nil
	}
}

func (d *Decoder) emit(ctx context.Context, processor replication.MessageProcessor, walStart replication.LSN, op string, relationID uint32, tuple, _ *pglogrepl.TupleData) error {
	rel := d.relationByID(relationID)
	if rel == nil {
		return fmt.Errorf("pgoutput: unknown relation id %d for %s", relationID, op)
	}

	encoded, err := encodeTuple(d.typeMap, rel, tuple)
	if err != nil {
		return fmt.Errorf("pgoutput: decode %s tuple for %s: %w", op, rel.RelationName, err)
	}

	return processor.Process(ctx, replication.DecodedMessage{
		LSN:       walStart,
		Operation: op,
		Payload:   encoded,
	})
}

func (d *Decoder) relationByID(id uint32) *pglogrepl.RelationMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relations[id]
}

func (d *Decoder) relationName(id uint32) string {
	if rel := d.relationByID(id); rel != nil {
		return rel.Namespace + "." + rel.RelationName
	}
	return fmt.Sprintf("oid:%d", id)
}

func relationLabel(name string) []byte {
	return []byte(name)
}
