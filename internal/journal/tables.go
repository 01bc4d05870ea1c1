package journal

import (
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/deriv-stream/internal/protocol"
	"github.com/rickgao/deriv-stream/internal/session"
)

// NewOutcomeWriter journals finished contracts into contract_outcomes,
// keyed by client trade id.
func NewOutcomeWriter(cfg WriterConfig, db Batcher, logger *slog.Logger) *Writer[session.ContractOutcome] {
	return NewWriter("contract_outcomes", cfg, db, queueOutcome, logger)
}

func queueOutcome(b *pgx.Batch, o session.ContractOutcome) {
	b.Queue(`
		INSERT INTO contract_outcomes (trade_id, contract_id, strategy, profit, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trade_id) DO NOTHING
	`, o.TradeID, o.ContractID, o.Strategy, protocol.AmountFromDecimal(o.Profit).StringFixed(protocol.AmountPlaces), o.FinishedAt)
}

// NewTickWriter journals ticks into ticks, keyed by (symbol, epoch).
func NewTickWriter(cfg WriterConfig, db Batcher, logger *slog.Logger) *Writer[session.Tick] {
	return NewWriter("ticks", cfg, db, queueTick, logger)
}

func queueTick(b *pgx.Batch, t session.Tick) {
	b.Queue(`
		INSERT INTO ticks (symbol, epoch, quote)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, epoch) DO NOTHING
	`, t.Symbol, t.Time.Unix(), t.Price)
}
