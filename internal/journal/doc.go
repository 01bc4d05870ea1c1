// Package journal persists session events to PostgreSQL.
//
// Writers:
//   - Contract outcome writer (contract_outcomes, keyed by trade_id)
//   - Tick writer (ticks, keyed by symbol and epoch)
//
// All writers are append-only and idempotent: replays of the same row are
// counted as conflicts.
package journal
