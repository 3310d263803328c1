// Package suppression implements the global suppression list service.
//
// This is the single source of truth for whether an address may receive
// mail. Suppressions flow in from provider feedback (hard bounces,
// complaints, unsubscribes) and manual admin actions, and are checked by the
// dispatcher before every send.
//
// Entries are upserted and never deleted. Deactivate is the only way an
// address becomes sendable again.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
