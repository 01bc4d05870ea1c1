package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned by Decode for frames that are not valid JSON
// objects or carry no msg_type.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError reports a frame whose envelope parsed but whose payload did
// not. Envelope still carries req_id, so the request that produced the frame
// can be failed.
type DecodeError struct {
	Envelope Envelope
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrMalformedFrame, e.Envelope.MsgType, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrMalformedFrame, e.Err} }

// MsgType is the msg_type discriminator carried by every inbound frame.
type MsgType string

const (
	MsgAuthorize    MsgType = "authorize"
	MsgTick         MsgType = "tick"
	MsgBalance      MsgType = "balance"
	MsgProposal     MsgType = "proposal"
	MsgBuy          MsgType = "buy"
	MsgOpenContract MsgType = "proposal_open_contract"
	MsgError        MsgType = "error"
	MsgForget       MsgType = "forget"
	MsgPing         MsgType = "ping"
)

// Message is one decoded inbound frame. The concrete type identifies the kind.
type Message interface {
	Kind() MsgType
	Header() *Envelope
}

// APIError is the error object the venue attaches to a failed response.
type APIError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Subscription identifies a venue-side stream.
type Subscription struct {
	ID string `json:"id"`
}

// Passthrough is opaque caller data the venue echoes back unmodified.
type Passthrough struct {
	Strategy      string `json:"strategy,omitempty"`
	ClientTradeID string `json:"client_trade_id,omitempty"`
}

// Envelope holds the fields shared by every inbound frame.
type Envelope struct {
	MsgType      MsgType         `json:"msg_type"`
	ReqID        int64           `json:"req_id,omitempty"`
	Error        *APIError       `json:"error,omitempty"`
	EchoReq      json.RawMessage `json:"echo_req,omitempty"`
	Passthrough  json.RawMessage `json:"passthrough,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
}

// Header returns the envelope itself.
func (e *Envelope) Header() *Envelope { return e }

// PassthroughData decodes the echoed passthrough, preferring the top-level
// field and falling back to echo_req.passthrough.
// Returns a zero Passthrough and no error when neither is present.
func (e *Envelope) PassthroughData() (Passthrough, error) {
	raw := e.Passthrough
	if len(raw) == 0 && len(e.EchoReq) > 0 {
		var echo struct {
			Passthrough json.RawMessage `json:"passthrough"`
		}
		if err := json.Unmarshal(e.EchoReq, &echo); err == nil {
			raw = echo.Passthrough
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Passthrough{}, nil
	}

	var p Passthrough
	if err := json.Unmarshal(raw, &p); err != nil {
		return Passthrough{}, fmt.Errorf("decode passthrough: %w", err)
	}
	return p, nil
}

// EchoSymbol returns the symbol of the echoed request, looking at the
// top-level symbol, parameters.symbol and ticks fields in that order.
func (e *Envelope) EchoSymbol() string {
	if len(e.EchoReq) == 0 {
		return ""
	}
	var echo struct {
		Symbol     string `json:"symbol"`
		Ticks      string `json:"ticks"`
		Parameters struct {
			Symbol string `json:"symbol"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(e.EchoReq, &echo); err != nil {
		return ""
	}
	switch {
	case echo.Symbol != "":
		return echo.Symbol
	case echo.Parameters.Symbol != "":
		return echo.Parameters.Symbol
	default:
		return echo.Ticks
	}
}

// AuthorizeData is the payload of a successful authorize response.
type AuthorizeData struct {
	LoginID   string   `json:"loginid"`
	Currency  string   `json:"currency"`
	Balance   *Amount  `json:"balance,omitempty"`
	IsVirtual FlexBool `json:"is_virtual"`
}

type AuthorizeMessage struct {
	Envelope
	Authorize *AuthorizeData `json:"authorize"`
}

func (*AuthorizeMessage) Kind() MsgType { return MsgAuthorize }

// TickData is one price update.
type TickData struct {
	ID     string      `json:"id"`
	Symbol string      `json:"symbol"`
	Quote  FlexFloat64 `json:"quote"`
	Epoch  FlexInt64   `json:"epoch"`
}

type TickMessage struct {
	Envelope
	Tick *TickData `json:"tick"`
}

func (*TickMessage) Kind() MsgType { return MsgTick }

// BalanceData is the account balance snapshot.
type BalanceData struct {
	ID       string `json:"id"`
	Balance  Amount `json:"balance"`
	Currency string `json:"currency"`
	LoginID  string `json:"loginid"`
}

type BalanceMessage struct {
	Envelope
	Balance *BalanceData `json:"balance"`
}

func (*BalanceMessage) Kind() MsgType { return MsgBalance }

// ProposalData is a priced quote for a contract.
type ProposalData struct {
	ID       string      `json:"id"`
	AskPrice Amount      `json:"ask_price"`
	Payout   Amount      `json:"payout"`
	Spot     FlexFloat64 `json:"spot"`
	Longcode string      `json:"longcode"`
}

type ProposalMessage struct {
	Envelope
	Proposal *ProposalData `json:"proposal"`
}

func (*ProposalMessage) Kind() MsgType { return MsgProposal }

// BuyData is the receipt of a placed contract.
type BuyData struct {
	ContractID    FlexInt64 `json:"contract_id"`
	TransactionID FlexInt64 `json:"transaction_id"`
	BuyPrice      Amount    `json:"buy_price"`
	Payout        Amount    `json:"payout"`
	StartTime     FlexInt64 `json:"start_time"`
	Longcode      string    `json:"longcode"`
}

type BuyMessage struct {
	Envelope
	Buy *BuyData `json:"buy"`
}

func (*BuyMessage) Kind() MsgType { return MsgBuy }

// OpenContractData is one lifecycle update of a placed contract.
type OpenContractData struct {
	ContractID   FlexInt64 `json:"contract_id"`
	Underlying   string    `json:"underlying"`
	ContractType string    `json:"contract_type"`
	Status       string    `json:"status"`
	IsSold       FlexBool  `json:"is_sold"`
	Profit       Amount    `json:"profit"`
	BuyPrice     Amount    `json:"buy_price"`
	SellPrice    Amount    `json:"sell_price"`
	SellTime     FlexInt64 `json:"sell_time"`
}

// IsFinished reports whether the contract has been settled.
func (d *OpenContractData) IsFinished() bool {
	if d == nil {
		return false
	}
	if d.IsSold {
		return true
	}
	switch d.Status {
	case "sold", "won", "lost":
		return true
	}
	return false
}

type OpenContractMessage struct {
	Envelope
	ProposalOpenContract *OpenContractData `json:"proposal_open_contract"`
}

func (*OpenContractMessage) Kind() MsgType { return MsgOpenContract }

type ErrorMessage struct {
	Envelope
}

func (*ErrorMessage) Kind() MsgType { return MsgError }

type ForgetMessage struct {
	Envelope
	Forget FlexBool `json:"forget"`
}

func (*ForgetMessage) Kind() MsgType { return MsgForget }

type PingMessage struct {
	Envelope
	Ping string `json:"ping"`
}

func (*PingMessage) Kind() MsgType { return MsgPing }

// UnknownMessage carries a frame whose msg_type is outside the known set.
type UnknownMessage struct {
	Envelope
	Raw []byte
}

func (m *UnknownMessage) Kind() MsgType { return m.MsgType }

// Decode parses one inbound text frame.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.MsgType == "" {
		return nil, fmt.Errorf("%w: missing msg_type", ErrMalformedFrame)
	}

	var msg Message
	switch env.MsgType {
	case MsgAuthorize:
		msg = &AuthorizeMessage{}
	case MsgTick:
		msg = &TickMessage{}
	case MsgBalance:
		msg = &BalanceMessage{}
	case MsgProposal:
		msg = &ProposalMessage{}
	case MsgBuy:
		msg = &BuyMessage{}
	case MsgOpenContract:
		msg = &OpenContractMessage{}
	case MsgError:
		msg = &ErrorMessage{}
	case MsgForget:
		msg = &ForgetMessage{}
	case MsgPing:
		msg = &PingMessage{}
	default:
		return &UnknownMessage{Envelope: env, Raw: data}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Envelope: env, Err: err}
	}
	return msg, nil
}
