// Package reputation aggregates the delivery log into rolling health
// metrics per provider and per sending domain.
//
// The delivery log is the only input: every send attempt and every
// provider callback is appended there, and Recompute turns the counts in
// the trailing window into bounce rate, complaint rate and average latency.
// Rates are percentages. Metrics are upserted, so a newer window replaces
// the stored one and nothing is ever deleted.
//
// Readers go through Snapshot, which is cached in Redis for a short TTL.
// Routing tolerates that staleness.
package reputation
