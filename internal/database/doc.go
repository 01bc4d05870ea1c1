// Package database provides the PostgreSQL connection pool and the journal
// schema (contract_outcomes, ticks).
package database
