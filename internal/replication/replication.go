// Package replication implements a PostgreSQL logical replication client
// core: attaching to a server-side replication slot, streaming decoded WAL
// messages, and reporting back received/flushed LSNs so the server can
// advance the slot.
//
// The public surface is Builder (construction), ReplicationSession
// (slot + connection lifecycle), and ReplicationStream (the open stream
// itself, including its keepalive loop). Everything else is a supporting
// collaborator: ControlConnection for non-replication SQL, SlotManager for
// slot reconciliation, and the MessageDecoder/MessageProcessor interfaces
// for plugging in a logical decoding format.
package replication
