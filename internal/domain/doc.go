// Package domain defines the core types of the mailflow delivery pipeline.
//
// Types in this package are value objects shared by the queue, dispatcher,
// feedback ingestor and repositories. They carry no database handles and no
// HTTP concerns.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and normalization helpers are allowed (pure functions)
package domain
