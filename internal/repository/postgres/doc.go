// Package postgres implements the service repositories on PostgreSQL via
// database/sql and lib/pq. The schema lives in migrations/.
package postgres
