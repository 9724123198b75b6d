// Package sync replays the Sync Queue against the remote API.
//
// # Overview
//
// Writes made while offline are stored locally and queued (see package
// store). When the client is back online, a Syncer drains that queue in
// FIFO order, one item at a time:
//
//	sync_queue (FIFO)
//	     ├── CREATE_TASK  → POST   /tasks
//	     ├── UPDATE_TASK  → PUT    /tasks/:id
//	     ├── DELETE_TASK  → DELETE /tasks/:id
//	     └── UPDATE_USER  → PUT    /user/profile
//	                           ↓
//	                      Local Store refreshed with the server copy
//
// # Error Handling
//
// Items are processed independently. An item that fails, whether the
// server rejects it or cannot be reached, has its retry counter incremented
// and the pass continues with the next item.
// Once the counter exceeds Config.MaxRetries the item is dropped and the
// user is told how many changes were lost.
//
// Only cancelling the context ends a pass early. The item in flight is not
// charged a retry and the remaining items wait for the next trigger.
//
// # Concurrency
//
// At most one pass runs at a time. Sync called while a pass is in flight
// returns immediately with Result.Skipped set.
package sync
