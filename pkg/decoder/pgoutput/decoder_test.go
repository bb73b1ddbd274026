package pgoutput

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pglogrepl"

	"github.com/quillbyte/pgreplicate/internal/replication"
)

type recordingProcessor struct {
	messages []replication.DecodedMessage
}

func (r *recordingProcessor) Process(_ context.Context, msg replication.DecodedMessage) error {
	r.messages = append(r.messages, msg)
	return nil
}

func TestEmit_OmitsToastedColumns(t *testing.T) {
	d := New(WithPublications("events_pub"))
	rel := &pglogrepl.RelationMessage{
		RelationID:   1,
		Namespace:    "public",
		RelationName: "events",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "id", DataType: 20, Flags: 1},
			{Name: "payload", DataType: 3802, Flags: 0},
		},
	}
	d.relations[rel.RelationID] = rel

	tuple := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("42")},
		{DataType: pglogrepl.TupleDataTypeToast},
	}}

	proc := &recordingProcessor{}
	if err := d.emit(context.Background(), proc, replication.LSN(100), "insert", rel.RelationID, tuple, nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(proc.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(proc.messages))
	}

	decoded := decodePayload(t, proc.messages[0].Payload)
	if _, ok := decoded["payload"]; ok {
		t.Fatalf("toasted column must be omitted, got %v", decoded)
	}
	if got, ok := decoded["id"].(float64); !ok || got != 42 {
		t.Fatalf("expected id=42 decoded via the int8 codec, got %v", decoded["id"])
	}
}

func TestEmit_UnknownRelationFails(t *testing.T) {
	d := New()
	proc := &recordingProcessor{}
	err := d.emit(context.Background(), proc, replication.LSN(1), "insert", 999, &pglogrepl.TupleData{}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown relation id")
	}
}

func TestOptionsWithMetadata_IncludesMessagesWhenEnabled(t *testing.T) {
	d := New(WithPublications("p1", "p2"), WithLogicalMessages(true))
	args := d.OptionsWithMetadata(nil)
	if !contains(args, "messages 'true'") {
		t.Fatalf("expected messages option, got %v", args)
	}
	if !contains(args, "publication_names 'p1'") || !contains(args, "publication_names 'p2'") {
		t.Fatalf("expected both publications forwarded, got %v", args)
	}

	without := d.OptionsWithoutMetadata(nil)
	if contains(without, "messages 'true'") {
		t.Fatalf("expected messages option absent without metadata, got %v", without)
	}
}

func decodePayload(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
