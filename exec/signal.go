// Package exec implements the seven-stage execution pipeline: signal
// validation, chain gating, transaction building, simulation, gated
// signing, bundle construction and private relay submission, plus the
// statistics and circuit-breaker state shared with the control plane.
package exec

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/dexarb/arbiter/advisor"
	"github.com/dexarb/arbiter/profit"
)

// MaxHops bounds the protocol list length accepted at Stage 1.
const MaxHops = 5

// ProtocolBridge is the wire protocol id for a cross-chain bridge hop.
// Bridge hops survive Stage 1 (the candidate shape is allowed) but the
// single-transaction builder rejects them at Stage 3.
const ProtocolBridge uint8 = 4

// GasParams are the recommended gas parameters attached to a signal.
type GasParams struct {
	PriorityFeeGwei int64 `json:"priorityFeeGwei"`
	SlippageBps     int64 `json:"slippageBps"`
	DeadlineSeconds int64 `json:"deadlineSeconds"`
}

// Signal is the discovery-to-execution hand-off record, JSON on the wire
// exactly as the control plane accepts it. Amounts are decimal strings in
// raw token units; extras are 0x-hex ABI blobs.
type Signal struct {
	ID             string    `json:"id,omitempty"`
	ChainID        uint64    `json:"chainId"`
	DestChainID    uint64    `json:"destChainId,omitempty"` // set only for bridge candidates
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	FlashSource    uint8     `json:"flashSource"`
	Protocols      []uint8   `json:"protocols"`
	Routers        []string  `json:"routers"`
	Path           []string  `json:"path"`
	Extras         []string  `json:"extras"`
	ExpectedProfit float64   `json:"expected_profit"` // USD, informational only
	Gas            *GasParams `json:"gas,omitempty"`
}

// RouteHop is one decoded swap step.
type RouteHop struct {
	Protocol uint8
	Router   common.Address
	TokenOut common.Address
	Extra    []byte
}

// Route is the validated, decoded form of a Signal produced by Stage 1.
type Route struct {
	SignalID       string
	ChainID        uint64
	DestChainID    uint64
	Token          common.Address
	Amount         *big.Int
	Source         profit.FlashSource
	Hops           []RouteHop
	ExpectedProfit decimal.Decimal
	Gas            advisor.Params
}

// CrossChain reports whether the route needs a bridge leg.
func (r *Route) CrossChain() bool {
	if r.DestChainID != 0 && r.DestChainID != r.ChainID {
		return true
	}
	for _, h := range r.Hops {
		if h.Protocol == ProtocolBridge {
			return true
		}
	}
	return false
}

// validate is Stage 1: it decodes and checks the signal, producing a
// Route or a signal-stage rejection. Array lengths must agree, the hop
// count must be 1..MaxHops, the token must be a 20-byte hex address and
// the amount a positive integer.
func validate(sig *Signal) (*Route, *PipelineError) {
	if sig.ChainID == 0 {
		return nil, reject(StageSignal, CodeInvalidSignal, "missing chainId")
	}
	if !common.IsHexAddress(sig.Token) {
		return nil, reject(StageSignal, CodeInvalidSignal, "token is not a 20-byte hex address")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(sig.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, reject(StageSignal, CodeInvalidSignal, "amount must be a positive decimal integer")
	}
	src := profit.FlashSource(sig.FlashSource)
	if src != profit.SourceBalancerV3 && src != profit.SourceAaveV3 {
		return nil, reject(StageSignal, CodeInvalidSignal, "unknown flash source %d", sig.FlashSource)
	}

	n := len(sig.Protocols)
	if n == 0 {
		return nil, reject(StageSignal, CodeInvalidSignal, "empty protocol list")
	}
	if n > MaxHops {
		return nil, reject(StageSignal, CodeInvalidSignal, "protocol list longer than %d", MaxHops)
	}
	if len(sig.Routers) != n || len(sig.Path) != n || len(sig.Extras) != n {
		return nil, reject(StageSignal, CodeInvalidSignal,
			"array length mismatch: protocols=%d routers=%d path=%d extras=%d",
			n, len(sig.Routers), len(sig.Path), len(sig.Extras))
	}

	route := &Route{
		SignalID:       sig.ID,
		ChainID:        sig.ChainID,
		DestChainID:    sig.DestChainID,
		Token:          common.HexToAddress(sig.Token),
		Amount:         amount,
		Source:         src,
		ExpectedProfit: decimal.NewFromFloat(sig.ExpectedProfit),
	}
	for i := 0; i < n; i++ {
		if !common.IsHexAddress(sig.Routers[i]) {
			return nil, reject(StageSignal, CodeInvalidSignal, "routers[%d] is not an address", i)
		}
		if !common.IsHexAddress(sig.Path[i]) {
			return nil, reject(StageSignal, CodeInvalidSignal, "path[%d] is not an address", i)
		}
		extra, err := hexutil.Decode(normalizeHex(sig.Extras[i]))
		if err != nil {
			return nil, reject(StageSignal, CodeInvalidSignal, "extras[%d] is not hex: %v", i, err)
		}
		route.Hops = append(route.Hops, RouteHop{
			Protocol: sig.Protocols[i],
			Router:   common.HexToAddress(sig.Routers[i]),
			TokenOut: common.HexToAddress(sig.Path[i]),
			Extra:    extra,
		})
	}

	if sig.Gas != nil {
		route.Gas = advisor.Params{
			PriorityFeeGwei: sig.Gas.PriorityFeeGwei,
			SlippageBps:     sig.Gas.SlippageBps,
			DeadlineSeconds: sig.Gas.DeadlineSeconds,
		}
	} else {
		route.Gas = advisor.StaticDefaults(advisor.UrgencyNormal)
	}
	return route, nil
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0x"
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "0x" + s
	}
	return s
}
