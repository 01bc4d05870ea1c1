package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is an outbound request frame.
type Command interface {
	// Method names the command for logging.
	Method() string
}

// Contract basis and duration units used by this client.
const (
	BasisStake = "stake"

	DurationTicks   = "t"
	DurationSeconds = "s"
	DurationMinutes = "m"
)

type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id,omitempty"`
}

func (AuthorizeRequest) Method() string { return "authorize" }

type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

func (TicksRequest) Method() string { return "ticks" }

// NewTicksRequest subscribes to the tick stream of symbol.
func NewTicksRequest(symbol string) TicksRequest {
	return TicksRequest{Ticks: symbol, Subscribe: 1}
}

type BalanceRequest struct {
	Balance   int `json:"balance"`
	Subscribe int `json:"subscribe"`
}

func (BalanceRequest) Method() string { return "balance" }

// NewBalanceRequest subscribes to balance updates.
func NewBalanceRequest() BalanceRequest {
	return BalanceRequest{Balance: 1, Subscribe: 1}
}

// ProposalRequest asks for a price quote. ReqID is the correlation id echoed
// back on the response.
type ProposalRequest struct {
	Proposal     int    `json:"proposal"`
	Amount       Amount `json:"amount"`
	Basis        string `json:"basis"`
	ContractType string `json:"contract_type"`
	Currency     string `json:"currency"`
	Duration     int    `json:"duration"`
	DurationUnit string `json:"duration_unit"`
	Symbol       string `json:"symbol"`
	ReqID        int64  `json:"req_id"`
}

func (ProposalRequest) Method() string { return "proposal" }

// ContractParameters describe a contract bought without a prior proposal.
type ContractParameters struct {
	Amount       Amount `json:"amount"`
	Basis        string `json:"basis"`
	ContractType string `json:"contract_type"`
	Currency     string `json:"currency"`
	Duration     int    `json:"duration"`
	DurationUnit string `json:"duration_unit"`
	Symbol       string `json:"symbol"`
}

// BuyRequest places an order. Price is the maximum the caller will pay.
type BuyRequest struct {
	Buy         string             `json:"buy"`
	Price       Amount             `json:"price"`
	Parameters  ContractParameters `json:"parameters"`
	Passthrough *Passthrough       `json:"passthrough,omitempty"`
}

func (BuyRequest) Method() string { return "buy" }

// OpenContractRequest subscribes to lifecycle updates of a placed contract.
type OpenContractRequest struct {
	ProposalOpenContract int          `json:"proposal_open_contract"`
	ContractID           int64        `json:"contract_id"`
	Subscribe            int          `json:"subscribe"`
	Passthrough          *Passthrough `json:"passthrough,omitempty"`
}

func (OpenContractRequest) Method() string { return "proposal_open_contract" }

// NewOpenContractRequest subscribes to contractID and carries p forward.
func NewOpenContractRequest(contractID int64, p Passthrough) OpenContractRequest {
	req := OpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           contractID,
		Subscribe:            1,
	}
	if p != (Passthrough{}) {
		req.Passthrough = &p
	}
	return req
}

// ForgetRequest cancels a venue subscription by id.
type ForgetRequest struct {
	Forget string `json:"forget"`
}

func (ForgetRequest) Method() string { return "forget" }

type PingRequest struct {
	Ping int `json:"ping"`
}

func (PingRequest) Method() string { return "ping" }

// Encode marshals cmd into a text frame.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Method(), err)
	}
	return data, nil
}
