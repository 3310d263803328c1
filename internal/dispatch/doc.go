// Package dispatch drives queued events through suppression, rendering,
// provider routing and sending.
//
// A Dispatcher invocation (RunOnce) claims one bounded batch from the queue
// and fans it out to a fixed pool of workers, returning once every claimed
// event has an outcome. Invocations keep no state between calls, so several
// processes can run them concurrently against the same queue. Recovery
// returns events stuck in processing after a crashed worker to the queue.
package dispatch
