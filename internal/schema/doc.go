// Package schema provides the data structures shared by the Taskly offline core.
//
// Two shapes are used throughout the code base:
//
//   - Record: a loosely typed JSON object (map[string]any). This is what the
//     Local Store persists and what the remote API sends back. Unknown fields
//     survive a round trip untouched.
//   - Task: a typed view over a task Record, used by the calendar reconciler
//     and by the CLI.
//
// # Bookkeeping fields
//
// Records written without server confirmation carry extra keys:
//
//	_offline    bool    true until the server has confirmed the write
//	_deleted    bool    tombstone for a delete made while offline
//	_timestamp  string  RFC3339Nano time of the last local write
//
// These keys are stripped by Record.Payload before a record is replayed
// against the server.
//
// # Identity
//
// Server-assigned records use the server id. Records created while offline
// get a temporary id of the form temp_<unix-millis>_<random>, see NewTempID.
// IsTempID reports whether an id still needs to be replaced.
package schema
