package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/deriv-stream/internal/connection"
)

// Errors
var (
	ErrSessionClosed         = errors.New("session closed")
	ErrAuthorizationInFlight = errors.New("authorization already in flight")
	ErrNoAuthorization       = errors.New("authorize has not been called")
	ErrInvalidOrder          = errors.New("invalid order")
)

// AuthorizationError is the venue's rejection of a credential.
type AuthorizationError struct {
	Code    string
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s (%s)", e.Message, e.Code)
}

// RequestError is the venue's rejection of one correlated request.
type RequestError struct {
	ReqID   int64
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d rejected: %s (%s)", e.ReqID, e.Message, e.Code)
}

// Config configures a Session.
type Config struct {
	Client         connection.ClientConfig
	AuthTimeout    time.Duration // Default bound for WaitUntilAuthorized
	RequestTimeout time.Duration // Default bound for RequestProposal
	EventBuffer    int           // Buffer size of each event channel
	Currency       string        // Used when neither the request nor the account names one
	Reconnect      ReconnectConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:         connection.DefaultClientConfig(),
		AuthTimeout:    15 * time.Second,
		RequestTimeout: 30 * time.Second,
		EventBuffer:    256,
		Reconnect:      DefaultReconnectConfig(),
	}
}

// Direction is the side of a rise/fall contract.
type Direction string

const (
	DirectionRise Direction = "rise"
	DirectionFall Direction = "fall"
)

// ContractType maps the direction to the venue's contract type.
func (d Direction) ContractType() string {
	switch d {
	case DirectionRise:
		return "CALL"
	case DirectionFall:
		return "PUT"
	}
	return ""
}

// ProposalRequest asks the venue to price a contract.
type ProposalRequest struct {
	Symbol       string
	ContractType string
	Stake        float64
	Currency     string // Empty = account currency
	Duration     int
	DurationUnit string
}

// ProposalQuote is a momentary price snapshot for a contract.
type ProposalQuote struct {
	ReqID          int64
	ID             string
	Payout         decimal.Decimal
	AskPrice       decimal.Decimal
	ExpectedProfit decimal.Decimal // Payout - AskPrice
}

// OrderRequest places a contract.
type OrderRequest struct {
	Strategy     string
	TradeID      string // Idempotent client token; generated when empty
	Symbol       string
	Direction    Direction
	Stake        float64 // Rounded to 2 dp
	Currency     string  // Empty = account currency
	Duration     int
	DurationUnit string
}

// Tick is one price update.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time // UTC
}

// BalanceUpdate is a new account balance.
type BalanceUpdate struct {
	Balance  decimal.Decimal
	Currency string
}

// ContractOutcome is the result of a finished contract.
type ContractOutcome struct {
	Strategy   string
	TradeID    string
	ContractID int64
	Profit     decimal.Decimal
	FinishedAt time.Time
}

// OrderError is a rejected order placement.
type OrderError struct {
	Symbol   string
	Code     string
	Message  string
	Strategy string
	TradeID  string
}

// ConnectionClosed reports an unexpected disconnect.
type ConnectionClosed struct {
	Reason string
	At     time.Time
}

// ReconnectKind identifies a reconnect supervisor transition.
type ReconnectKind string

const (
	ReconnectStarted       ReconnectKind = "started"
	ReconnectAttemptFailed ReconnectKind = "attempt_failed"
	ReconnectSucceeded     ReconnectKind = "succeeded"
	ReconnectExhausted     ReconnectKind = "exhausted"
)

// ReconnectEvent reports reconnect progress.
// ReconnectExhausted is terminal: no further automatic attempts are made.
type ReconnectEvent struct {
	Kind    ReconnectKind
	Attempt int
	Err     error
	At      time.Time
}

// Stats contains runtime statistics.
type Stats struct {
	Connected         bool
	Reconnecting      bool
	FramesRouted      int64
	ProtocolAnomalies int64
	UnknownFrames     int64
	TicksDropped      int64
	BalancesDropped   int64
	PendingRequests   int
	Subscriptions     int
}
