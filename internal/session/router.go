package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/deriv-stream/internal/connection"
	"github.com/rickgao/deriv-stream/internal/protocol"
)

// Venue error codes that invalidate the current authorization.
var authClearingCodes = map[string]bool{
	"InvalidToken":          true,
	"AuthorizationRequired": true,
	"DisabledClient":        true,
}

// Venue error codes after which a rejected tick subscription is kept for the
// next replay.
var transientCodes = map[string]bool{
	"RateLimit": true,
}

// Finished contract ids remembered to suppress duplicate outcomes.
const finishedContractsKept = 1024

// router dispatches decoded frames. All methods run on the dispatcher
// goroutine.
type router struct {
	ctx    context.Context
	logger *slog.Logger

	state  *State
	subs   *symbolSet
	quotes *connection.Correlator[ProposalQuote]
	events *events

	resolveAuth func(reqID int64, err error, apply func()) bool
	send        func(context.Context, protocol.Command) error

	// Recently finished contract ids.
	finished *recentIDs

	routed          atomic.Int64
	anomalies       atomic.Int64
	unknown         atomic.Int64
	ticksDropped    atomic.Int64
	balancesDropped atomic.Int64
}

func (r *router) route(msg connection.TimestampedMessage) {
	r.routed.Add(1)

	decoded, err := protocol.Decode(msg.Data)
	if err != nil {
		r.anomalies.Add(1)
		r.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Envelope.ReqID != 0 {
			r.failRequest(de.Envelope.ReqID, err)
		}
		return
	}

	switch m := decoded.(type) {
	case *protocol.AuthorizeMessage:
		r.handleAuthorize(m)
	case *protocol.TickMessage:
		r.handleTick(m, msg.ReceivedAt)
	case *protocol.BalanceMessage:
		r.handleBalance(m)
	case *protocol.ProposalMessage:
		r.handleProposal(m)
	case *protocol.BuyMessage:
		r.handleBuy(m)
	case *protocol.OpenContractMessage:
		r.handleOpenContract(m, msg.ReceivedAt)
	case *protocol.ErrorMessage:
		r.handleError(m.Header())
	case *protocol.UnknownMessage:
		r.unknown.Add(1)
		if m.Error != nil {
			r.handleError(m.Header())
			return
		}
		r.logger.Debug("ignoring unknown message", "msg_type", m.MsgType)
	default:
		// forget, ping
		if env := decoded.Header(); env.Error != nil {
			r.handleError(env)
			return
		}
		r.logger.Debug("received", "msg_type", decoded.Kind())
	}
}

func (r *router) handleAuthorize(m *protocol.AuthorizeMessage) {
	id := m.ReqID
	if m.Error != nil {
		authErr := &AuthorizationError{Code: m.Error.Code, Message: m.Error.Message}
		if !r.resolveAuth(id, authErr, r.state.clearAuth) {
			r.logger.Debug("dropping stale authorize reply", "req_id", id, "code", m.Error.Code)
			return
		}
		r.logger.Warn("authorization rejected", "code", m.Error.Code, "message", m.Error.Message)
		return
	}
	if m.Authorize == nil {
		r.anomalies.Add(1)
		r.resolveAuth(id, fmt.Errorf("%w: authorize without payload", protocol.ErrMalformedFrame), nil)
		return
	}

	a := m.Authorize
	var balance *decimal.Decimal
	if a.Balance != nil {
		b := a.Balance.Decimal
		balance = &b
	}
	apply := func() { r.state.authorized(a.LoginID, a.Currency, balance) }
	if !r.resolveAuth(id, nil, apply) {
		r.logger.Debug("dropping stale authorize reply", "req_id", id, "login_id", a.LoginID)
		return
	}
	r.logger.Info("authorized", "login_id", a.LoginID, "currency", a.Currency, "virtual", bool(a.IsVirtual))

	if balance != nil {
		r.publishBalance(BalanceUpdate{Balance: *balance, Currency: a.Currency})
	}
}

func (r *router) handleTick(m *protocol.TickMessage, receivedAt time.Time) {
	if m.Error != nil {
		if symbol := m.EchoSymbol(); symbol != "" && !transientCodes[m.Error.Code] {
			if _, ok := r.subs.remove(symbol); ok {
				r.logger.Warn("tick subscription rejected, no longer tracked", "symbol", symbol, "code", m.Error.Code)
			}
		}
		r.handleError(m.Header())
		return
	}
	if m.Tick == nil {
		r.anomalies.Add(1)
		r.logger.Warn("tick without payload")
		return
	}

	t := m.Tick
	subID := t.ID
	if subID == "" && m.Subscription != nil {
		subID = m.Subscription.ID
	}

	if !r.subs.setID(t.Symbol, subID) {
		// Stream outlived an unsubscribe that raced the first tick.
		if subID != "" {
			r.logger.Debug("forgetting untracked tick stream", "symbol", t.Symbol, "subscription_id", subID)
			if err := r.send(r.ctx, protocol.ForgetRequest{Forget: subID}); err != nil {
				r.logger.Warn("failed to forget tick stream", "symbol", t.Symbol, "error", err)
			}
		}
		return
	}

	at := t.Epoch.Time()
	if t.Epoch == 0 {
		at = receivedAt.UTC()
	}
	tick := Tick{Symbol: t.Symbol, Price: float64(t.Quote), Time: at}
	if !offer(r.events.ticks, tick) {
		if r.ticksDropped.Add(1)%100 == 1 {
			r.logger.Warn("tick buffer full, dropping", "symbol", t.Symbol, "dropped", r.ticksDropped.Load())
		}
	}
}

func (r *router) handleBalance(m *protocol.BalanceMessage) {
	if m.Error != nil {
		r.logger.Warn("balance request failed", "code", m.Error.Code, "message", m.Error.Message)
		return
	}
	if m.Balance == nil {
		r.anomalies.Add(1)
		r.logger.Warn("balance without payload")
		return
	}

	b := m.Balance
	r.state.setBalance(b.Balance.Decimal, b.Currency)
	r.publishBalance(BalanceUpdate{Balance: b.Balance.Decimal, Currency: b.Currency})
}

func (r *router) publishBalance(u BalanceUpdate) {
	if !offer(r.events.balances, u) {
		r.balancesDropped.Add(1)
		r.logger.Warn("balance buffer full, dropping update", "balance", u.Balance.StringFixed(protocol.AmountPlaces))
	}
}

func (r *router) handleProposal(m *protocol.ProposalMessage) {
	id := m.ReqID
	if id == 0 {
		r.anomalies.Add(1)
		r.logger.Warn("proposal without req_id")
		return
	}

	if m.Error != nil {
		r.logger.Warn("proposal rejected", "req_id", id, "code", m.Error.Code, "message", m.Error.Message)
		r.quotes.Fail(id, &RequestError{ReqID: id, Code: m.Error.Code, Message: m.Error.Message})
		return
	}
	if m.Proposal == nil {
		r.anomalies.Add(1)
		r.quotes.Fail(id, fmt.Errorf("%w: proposal without payload", protocol.ErrMalformedFrame))
		return
	}

	p := m.Proposal
	quote := ProposalQuote{
		ReqID:          id,
		ID:             p.ID,
		Payout:         p.Payout.Decimal,
		AskPrice:       p.AskPrice.Decimal,
		ExpectedProfit: p.Payout.Decimal.Sub(p.AskPrice.Decimal),
	}
	if !r.quotes.Resolve(id, quote) {
		r.logger.Debug("dropping proposal for unknown request", "req_id", id)
	}
}

func (r *router) handleBuy(m *protocol.BuyMessage) {
	pt, ptErr := m.PassthroughData()
	if ptErr != nil {
		r.anomalies.Add(1)
		r.logger.Warn("malformed passthrough on buy", "error", ptErr)
	}

	if m.Error != nil {
		oe := OrderError{
			Symbol:   m.EchoSymbol(),
			Code:     m.Error.Code,
			Message:  m.Error.Message,
			Strategy: pt.Strategy,
			TradeID:  pt.ClientTradeID,
		}
		r.logger.Warn("order rejected",
			"symbol", oe.Symbol,
			"strategy", oe.Strategy,
			"trade_id", oe.TradeID,
			"code", oe.Code,
			"message", oe.Message,
		)
		if authClearingCodes[oe.Code] {
			r.state.clearAuth()
		}
		deliver(r.ctx, r.events.orderErrors, oe)
		return
	}
	if m.Buy == nil {
		r.anomalies.Add(1)
		r.logger.Warn("buy without payload", "trade_id", pt.ClientTradeID)
		return
	}

	b := m.Buy
	contractID := int64(b.ContractID)
	r.logger.Info("contract bought",
		"contract_id", contractID,
		"buy_price", b.BuyPrice.StringFixed(protocol.AmountPlaces),
		"strategy", pt.Strategy,
		"trade_id", pt.ClientTradeID,
	)
	if err := r.send(r.ctx, protocol.NewOpenContractRequest(contractID, pt)); err != nil {
		r.logger.Error("failed to track contract", "contract_id", contractID, "error", err)
	}
}

func (r *router) handleOpenContract(m *protocol.OpenContractMessage, receivedAt time.Time) {
	if m.Error != nil {
		r.handleError(m.Header())
		return
	}

	c := m.ProposalOpenContract
	if !c.IsFinished() {
		return
	}
	contractID := int64(c.ContractID)
	if !r.finished.add(contractID) {
		return
	}
	if m.Subscription != nil && m.Subscription.ID != "" {
		if err := r.send(r.ctx, protocol.ForgetRequest{Forget: m.Subscription.ID}); err != nil {
			r.logger.Warn("failed to forget contract stream", "contract_id", contractID, "error", err)
		}
	}

	pt, err := m.PassthroughData()
	if err != nil || pt.ClientTradeID == "" {
		r.logger.Warn("finished contract without trade id", "contract_id", contractID, "error", err)
		return
	}

	finishedAt := c.SellTime.Time()
	if c.SellTime == 0 {
		finishedAt = receivedAt.UTC()
	}
	outcome := ContractOutcome{
		Strategy:   pt.Strategy,
		TradeID:    pt.ClientTradeID,
		ContractID: contractID,
		Profit:     c.Profit.Decimal,
		FinishedAt: finishedAt,
	}
	r.logger.Info("contract finished",
		"contract_id", contractID,
		"strategy", outcome.Strategy,
		"trade_id", outcome.TradeID,
		"profit", outcome.Profit.StringFixed(protocol.AmountPlaces),
	)
	deliver(r.ctx, r.events.outcomes, outcome)
}

func (r *router) handleError(env *protocol.Envelope) {
	e := env.Error
	if e == nil {
		r.anomalies.Add(1)
		r.logger.Warn("error frame without error payload", "msg_type", env.MsgType)
		return
	}

	r.logger.Warn("venue error",
		"msg_type", env.MsgType,
		"req_id", env.ReqID,
		"code", e.Code,
		"message", e.Message,
	)

	if env.ReqID != 0 {
		if !r.resolveAuth(env.ReqID, &AuthorizationError{Code: e.Code, Message: e.Message}, r.state.clearAuth) {
			r.quotes.Fail(env.ReqID, &RequestError{ReqID: env.ReqID, Code: e.Code, Message: e.Message})
		}
	}
	if authClearingCodes[e.Code] {
		r.state.clearAuth()
		r.logger.Warn("authorization lost", "code", e.Code)
	}
}

// failRequest fails whichever pending request owns reqID.
func (r *router) failRequest(reqID int64, err error) {
	if r.resolveAuth(reqID, err, nil) {
		return
	}
	if !r.quotes.Fail(reqID, err) {
		r.logger.Debug("no pending request for failed frame", "req_id", reqID)
	}
}
