package replication

// SlotInfo describes server-side state for one logical replication slot,
// as reported by pg_replication_slots.
type SlotInfo struct {
	Valid               bool
	SlotName            string
	Plugin              string
	Database            string
	Active              bool
	ActivePID           int32
	Temporary           bool
	RestartLSN          LSN
	ConfirmedFlushedLSN LSN
	CatalogXmin         *int64
	HasValidFlushedLSN  bool
}

// InvalidSlot is the distinguished SlotInfo value meaning "no such slot on
// the server". Prefer this over a zero-value SlotInfo{} so callers can't
// mistake an uninitialized struct for a real lookup miss.
var InvalidSlot = SlotInfo{Valid: false}

// SlotState is the narrow slice of SlotInfo an upstream xmin refresh needs:
// how far the slot has confirmed flush, and what transaction horizon it is
// still holding back.
type SlotState struct {
	ConfirmedFlushedLSN LSN
	CatalogXmin         *int64
}
