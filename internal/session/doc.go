// Package session manages one authenticated connection to the trading venue.
//
// A Session owns the transport client, a single dispatcher goroutine that
// routes inbound frames in arrival order, the proposal correlator and the
// reconnect supervisor. Results are delivered on typed channels:
//
//	s := session.New(cfg, logger)
//	if err := s.Connect(ctx); err != nil { ... }
//	if err := s.Login(ctx, token); err != nil { ... }
//	s.SubscribeTicks(ctx, "R_100")
//	for tick := range s.Ticks() { ... }
//
// After an unexpected disconnect the supervisor reconnects, re-authorizes
// with the last token and replays every tracked tick subscription plus the
// balance subscription. After MaxAttempts failures it gives up and emits a
// ReconnectExhausted event; Reconnect can then be called manually.
package session
