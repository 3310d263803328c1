// Package queue implements the durable event queue that sits between the
// collaborators that request notifications and the dispatcher that sends
// them.
//
// Enqueue is idempotent on the event's idempotency key: while an event with
// the same key is still queued or processing, a second request folds into
// it instead of creating a new row. ClaimBatch hands each queued event to
// exactly one caller. MarkOutcome only moves events that are currently
// processing, so a late writer can never reopen a terminal event.
package queue
