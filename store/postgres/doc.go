// Package postgres implements store.Store using pgx/v5 with raw SQL and
// embedded migrations.
package postgres
