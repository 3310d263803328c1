// Package feedback ingests asynchronous provider notifications (bounces,
// complaints, deliveries, engagement and unsubscribes).
//
// Hard bounces, complaints and unsubscribes upsert an active suppression
// entry. Every accepted notification is appended to the delivery log and,
// when the provider is known, triggers a health recompute for that provider
// and the sending domain. A messageId that matches a sent event updates the
// event's informational delivery status; the event's own status is never
// reopened.
//
// Batches are processed item by item. A malformed item is reported in the
// batch result and never prevents the remaining items from being applied.
package feedback
