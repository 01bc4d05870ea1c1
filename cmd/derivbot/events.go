package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/deriv-stream/internal/protocol"
	"github.com/rickgao/deriv-stream/internal/session"
)

// eventSinks receive journaled events. Nil sinks are skipped.
type eventSinks struct {
	outcomes interface {
		Write(session.ContractOutcome) bool
	}
	ticks interface {
		Write(session.Tick) bool
	}
}

// consumeEvents drains every session channel until ctx is done.
func consumeEvents(ctx context.Context, sess *session.Session, sinks eventSinks, logger *slog.Logger) {
	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	var ticks int64
	for {
		select {
		case <-ctx.Done():
			return

		case tick := <-sess.Ticks():
			ticks++
			logger.Debug("tick", "symbol", tick.Symbol, "price", tick.Price, "time", tick.Time)
			if sinks.ticks != nil && !sinks.ticks.Write(tick) {
				logger.Warn("tick journal full, dropping", "symbol", tick.Symbol)
			}

		case u := <-sess.Balances():
			logger.Info("balance", "balance", u.Balance.StringFixed(protocol.AmountPlaces), "currency", u.Currency)

		case out := <-sess.Outcomes():
			if sinks.outcomes != nil && !sinks.outcomes.Write(out) {
				logger.Error("outcome journal full, dropping", "trade_id", out.TradeID)
			}

		case oe := <-sess.OrderErrors():
			logger.Warn("order error",
				"symbol", oe.Symbol,
				"strategy", oe.Strategy,
				"trade_id", oe.TradeID,
				"code", oe.Code,
				"message", oe.Message,
			)

		case ev := <-sess.Closed():
			logger.Warn("connection closed", "reason", ev.Reason, "at", ev.At)

		case ev := <-sess.Reconnects():
			switch ev.Kind {
			case session.ReconnectExhausted:
				logger.Error("automatic reconnect failed; manual restart required",
					"attempts", ev.Attempt,
					"error", ev.Err,
				)
			case session.ReconnectSucceeded:
				logger.Info("session restored", "attempt", ev.Attempt)
			}

		case <-statsTicker.C:
			stats := sess.Stats()
			logger.Info("session stats",
				"ticks", ticks,
				"connected", stats.Connected,
				"frames", stats.FramesRouted,
				"anomalies", stats.ProtocolAnomalies,
				"ticks_dropped", stats.TicksDropped,
				"pending", stats.PendingRequests,
			)
		}
	}
}
