// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: sticky cancel flags enforced in UPDATE, identity-ordered
// signal mailboxes, JSONB run vars, embedded SQL migrations.
package postgres
