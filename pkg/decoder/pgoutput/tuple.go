package pgoutput

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
)

// encodeTuple decodes a pgoutput tuple into a JSON object keyed by column
// name, using rel's column definitions to know names and types. A TOASTed
// column that wasn't sent because it is unchanged is omitted rather than
// given a null placeholder, so callers can tell "unchanged" apart from
// "set to null".
func encodeTuple(typeMap *pgtype.Map, rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) ([]byte, error) {
	if tuple == nil {
		return []byte("null"), nil
	}

	values := make(map[string]any, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		if idx >= len(rel.Columns) {
			return nil, fmt.Errorf("tuple column index %d out of range for relation %s", idx, rel.RelationName)
		}
		name := rel.Columns[idx].Name

		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[name] = nil
		case pglogrepl.TupleDataTypeToast:
			continue
		case pglogrepl.TupleDataTypeText, pglogrepl.TupleDataTypeBinary:
			decoded, err := decodeColumn(typeMap, rel.Columns[idx].DataType, col)
			if err != nil {
				return nil, fmt.Errorf("decode column %s: %w", name, err)
			}
			values[name] = decoded
		default:
			return nil, fmt.Errorf("unknown tuple column type %q for %s", col.DataType, name)
		}
	}

	return marshalOrdered(values)
}

func decodeColumn(typeMap *pgtype.Map, oid uint32, col *pglogrepl.TupleDataColumn) (any, error) {
	format := int16(pgtype.TextFormatCode)
	if col.DataType == pglogrepl.TupleDataTypeBinary {
		format = pgtype.BinaryFormatCode
	}

	typ, ok := typeMap.TypeForOID(oid)
	if !ok {
		return string(col.Data), nil
	}
	return typ.Codec.DecodeValue(typeMap, oid, format, col.Data)
}

// marshalOrdered renders values as a JSON object with keys sorted
// lexically, so two tuples with identical contents always produce
// byte-identical payloads regardless of map iteration order.
func marshalOrdered(values map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
