package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/deriv-stream/internal/connection"
	"github.com/rickgao/deriv-stream/internal/protocol"
)

const defaultCurrency = "USD"

// Session is one authenticated connection to the venue. It owns the
// transport, routes inbound frames to typed event channels and restores the
// connection after unexpected loss.
type Session struct {
	cfg    Config
	logger *slog.Logger

	client     connection.Client
	quotes     *connection.Correlator[ProposalQuote]
	state      *State
	subs       *symbolSet
	events     *events
	router     *router
	supervisor *Supervisor

	authMu sync.Mutex
	auth   *authSlot
	token  string

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a session. It does not connect.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return newSession(cfg, connection.NewClient(cfg.Client, logger.With("component", "transport")), logger)
}

func newSession(cfg Config, client connection.Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		client: client,
		quotes: connection.NewCorrelator[ProposalQuote](),
		state:  &State{},
		subs:   newSymbolSet(),
		events: newEvents(cfg.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	s.router = &router{
		ctx:         ctx,
		logger:      logger.With("component", "router"),
		state:       s.state,
		subs:        s.subs,
		quotes:      s.quotes,
		events:      s.events,
		resolveAuth: s.resolveAuthReply,
		send:        s.sendCommand,
		finished:    newRecentIDs(finishedContractsKept),
	}

	s.supervisor = NewSupervisor(cfg.Reconnect, s, func(ctx context.Context, ev ReconnectEvent) {
		deliver(ctx, s.events.reconnects, ev)
	}, logger.With("component", "supervisor"))

	return s
}

// Connect opens the transport and starts the dispatcher.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.dispatchLoop()
	})

	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.logger.Info("connected")
	return nil
}

// Authorize sends the credential. Use WaitUntilAuthorized for the result.
func (s *Session) Authorize(ctx context.Context, token string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.authMu.Lock()
	if s.auth != nil && !s.auth.completed() {
		s.authMu.Unlock()
		return ErrAuthorizationInFlight
	}
	slot := newAuthSlot(s.quotes.NextID())
	s.auth = slot
	s.token = token
	s.authMu.Unlock()

	if err := s.sendCommand(ctx, protocol.AuthorizeRequest{Authorize: token, ReqID: slot.id}); err != nil {
		s.completeAuth(err)
		return err
	}
	return nil
}

// WaitUntilAuthorized blocks until the venue answers the last Authorize.
// Returns nil, an *AuthorizationError, or connection.ErrTimeout when neither
// ctx nor AuthTimeout allow any more waiting.
func (s *Session) WaitUntilAuthorized(ctx context.Context) error {
	s.authMu.Lock()
	slot := s.auth
	s.authMu.Unlock()

	if slot == nil {
		return ErrNoAuthorization
	}

	ctx, cancel := withDefaultTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	select {
	case <-slot.done:
		return slot.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("authorization: %w", connection.ErrTimeout)
		}
		// Free the slot so a later Authorize is not refused. A late reply
		// carries this slot's req_id and is dropped.
		s.authMu.Lock()
		slot.complete(err)
		s.authMu.Unlock()
		return slot.err
	}
}

// Login authorizes and waits for the result.
func (s *Session) Login(ctx context.Context, token string) error {
	if err := s.Authorize(ctx, token); err != nil {
		return err
	}
	return s.WaitUntilAuthorized(ctx)
}

// SubscribeTicks starts the tick stream for symbol and adds it to the set
// replayed after a reconnect.
func (s *Session) SubscribeTicks(ctx context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errors.New("symbol is required")
	}

	// Track first so the first tick is never treated as stray.
	added := s.subs.add(symbol)
	if err := s.sendCommand(ctx, protocol.NewTicksRequest(symbol)); err != nil {
		if added {
			s.subs.remove(symbol)
		}
		return err
	}
	s.logger.Debug("subscribed to ticks", "symbol", symbol)
	return nil
}

// UnsubscribeTicks stops the tick stream for symbol. A stream whose first
// tick has not arrived yet is forgotten when that tick shows up.
func (s *Session) UnsubscribeTicks(ctx context.Context, symbol string) error {
	id, ok := s.subs.remove(symbol)
	if !ok || id == "" {
		return nil
	}
	if err := s.sendCommand(ctx, protocol.ForgetRequest{Forget: id}); err != nil {
		return err
	}
	s.logger.Debug("unsubscribed from ticks", "symbol", symbol, "subscription_id", id)
	return nil
}

// SubscribeBalance starts balance updates.
func (s *Session) SubscribeBalance(ctx context.Context) error {
	return s.sendCommand(ctx, protocol.NewBalanceRequest())
}

// RequestProposal asks for a quote and waits for the matching response.
// Bounded by ctx or RequestTimeout.
func (s *Session) RequestProposal(ctx context.Context, req ProposalRequest) (ProposalQuote, error) {
	p := s.quotes.Allocate()

	cmd := protocol.ProposalRequest{
		Proposal:     1,
		Amount:       protocol.NewAmount(req.Stake),
		Basis:        protocol.BasisStake,
		ContractType: req.ContractType,
		Currency:     s.currencyOr(req.Currency),
		Duration:     req.Duration,
		DurationUnit: req.DurationUnit,
		Symbol:       req.Symbol,
		ReqID:        p.ID,
	}
	if err := s.sendCommand(ctx, cmd); err != nil {
		p.Cancel(err)
		return ProposalQuote{}, err
	}

	ctx, cancel := withDefaultTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	quote, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return quote, fmt.Errorf("proposal %d: %w", p.ID, connection.ErrTimeout)
	}
	return quote, err
}

// Buy places a contract and returns its client trade id. The result arrives
// later on Outcomes or OrderErrors.
func (s *Session) Buy(ctx context.Context, order OrderRequest) (string, error) {
	contractType := order.Direction.ContractType()
	if contractType == "" {
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidOrder, order.Direction)
	}
	stake := protocol.NewAmount(order.Stake)
	if !stake.IsPositive() {
		return "", fmt.Errorf("%w: stake must be positive", ErrInvalidOrder)
	}
	if order.Symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}

	tradeID := order.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}

	cmd := protocol.BuyRequest{
		Buy:   "1",
		Price: stake,
		Parameters: protocol.ContractParameters{
			Amount:       stake,
			Basis:        protocol.BasisStake,
			ContractType: contractType,
			Currency:     s.currencyOr(order.Currency),
			Duration:     order.Duration,
			DurationUnit: order.DurationUnit,
			Symbol:       order.Symbol,
		},
		Passthrough: &protocol.Passthrough{
			Strategy:      order.Strategy,
			ClientTradeID: tradeID,
		},
	}
	if err := s.sendCommand(ctx, cmd); err != nil {
		return tradeID, err
	}

	s.logger.Info("order sent",
		"symbol", order.Symbol,
		"direction", order.Direction,
		"stake", stake.StringFixed(protocol.AmountPlaces),
		"strategy", order.Strategy,
		"trade_id", tradeID,
	)
	return tradeID, nil
}

// Reconnect closes the current link and restores the session: connect,
// re-authorize with the last token, re-subscribe every tracked symbol and
// request the balance. The supervisor calls it after unexpected loss; callers
// may use it as a manual restart.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.client.Close()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.subs.clearIDs()

	s.authMu.Lock()
	token := s.token
	s.authMu.Unlock()

	if token != "" {
		if err := s.Login(ctx, token); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}
	}

	for _, symbol := range s.subs.symbols() {
		if err := s.sendCommand(ctx, protocol.NewTicksRequest(symbol)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", symbol, err)
		}
	}

	if token != "" {
		if err := s.SubscribeBalance(ctx); err != nil {
			return fmt.Errorf("balance: %w", err)
		}
	}
	return nil
}

// Connected reports whether the transport link is up.
func (s *Session) Connected() bool {
	return s.client.IsConnected()
}

// Close stops the supervisor, the transport and the dispatcher, fails every
// outstanding request with ErrSessionClosed and closes the event channels.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		// Supervisor first so it cannot reopen the transport.
		s.supervisor.Stop()
		s.cancel()
		err = s.client.Close()
		s.wg.Wait()

		s.quotes.FailAll(ErrSessionClosed)
		s.completeAuth(ErrSessionClosed)
		s.state.clearAuth()
		s.events.close()
		s.logger.Info("session closed")
	})
	return err
}

// Ticks delivers price updates. Updates are dropped when the buffer is full.
func (s *Session) Ticks() <-chan Tick { return s.events.ticks }

// Balances delivers balance updates. Updates are dropped when the buffer is full.
func (s *Session) Balances() <-chan BalanceUpdate { return s.events.balances }

// Outcomes delivers one result per finished contract.
func (s *Session) Outcomes() <-chan ContractOutcome { return s.events.outcomes }

// OrderErrors delivers rejected orders.
func (s *Session) OrderErrors() <-chan OrderError { return s.events.orderErrors }

// Closed delivers unexpected disconnects.
func (s *Session) Closed() <-chan ConnectionClosed { return s.events.closed }

// Reconnects delivers reconnect progress.
func (s *Session) Reconnects() <-chan ReconnectEvent { return s.events.reconnects }

// Snapshot returns the connection state.
func (s *Session) Snapshot() Snapshot {
	return s.state.Snapshot()
}

// Symbols returns the tracked tick symbols, sorted.
func (s *Session) Symbols() []string {
	return s.subs.symbols()
}

// Stats returns runtime statistics.
func (s *Session) Stats() Stats {
	return Stats{
		Connected:         s.client.IsConnected(),
		Reconnecting:      s.supervisor.Reconnecting(),
		FramesRouted:      s.router.routed.Load(),
		ProtocolAnomalies: s.router.anomalies.Load(),
		UnknownFrames:     s.router.unknown.Load(),
		TicksDropped:      s.router.ticksDropped.Load(),
		BalancesDropped:   s.router.balancesDropped.Load(),
		PendingRequests:   s.quotes.Len(),
		Subscriptions:     s.subs.len(),
	}
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()

	messages := s.client.Messages()
	lost := s.client.Lost()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-messages:
			s.router.route(msg)
		case l := <-lost:
			// Route what arrived before the loss first.
			s.drainMessages(messages)
			s.handleLost(l)
		}
	}
}

func (s *Session) drainMessages(messages <-chan connection.TimestampedMessage) {
	for {
		select {
		case msg := <-messages:
			s.router.route(msg)
		default:
			return
		}
	}
}

func (s *Session) handleLost(l *connection.LostError) {
	s.state.clearAuth()
	failed := s.quotes.FailAll(l)
	s.completeAuth(l)

	s.logger.Warn("connection lost", "reason", l.Reason, "failed_requests", failed, "error", l.Err)
	deliver(s.ctx, s.events.closed, ConnectionClosed{Reason: l.Reason, At: l.At})

	s.supervisor.Trigger(l.Reason)
}

func (s *Session) sendCommand(ctx context.Context, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.client.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Method(), err)
	}
	return nil
}

// completeAuth resolves the armed authorization slot, if any.
func (s *Session) completeAuth(err error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if s.auth != nil {
		s.auth.complete(err)
	}
}

// resolveAuthReply completes the armed slot only when reqID is its id. apply
// runs under the same lock first, so connection state follows the current
// handshake only. Returns false for stale or unsolicited replies.
func (s *Session) resolveAuthReply(reqID int64, err error, apply func()) bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	slot := s.auth
	if slot == nil || slot.id != reqID || slot.completed() {
		return false
	}
	if apply != nil {
		apply()
	}
	slot.complete(err)
	return true
}

func (s *Session) currencyOr(currency string) string {
	if currency != "" {
		return currency
	}
	if c := s.state.Snapshot().Currency; c != "" {
		return c
	}
	if s.cfg.Currency != "" {
		return s.cfg.Currency
	}
	return defaultCurrency
}

// authSlot is the single-shot result of one authorization handshake. id is
// the req_id sent with the authorize frame.
type authSlot struct {
	id   int64
	done chan struct{}
	once sync.Once
	err  error
}

func newAuthSlot(id int64) *authSlot {
	return &authSlot{id: id, done: make(chan struct{})}
}

func (a *authSlot) complete(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *authSlot) completed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
