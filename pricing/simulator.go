package pricing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/dexarb/arbiter/chains"
)

// CallMeta carries the minimal fields required to pre-flight a built
// transaction against a node. It is deliberately lightweight so that the
// pipeline and the control plane can share it without dragging in the
// full transaction type.
type CallMeta struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	Data    []byte
	Value   *big.Int
}

// SimResult reports the outcome of a pre-sign simulation.
type SimResult struct {
	Success bool   `json:"success"`
	GasUsed uint64 `json:"gasUsed,omitempty"`
	Revert  string `json:"error,omitempty"`
}

// Simulator pre-flights transactions with eth_call + eth_estimateGas
// against the latest block.
type Simulator struct {
	providers *chains.Providers
}

// NewSimulator builds a Simulator over the connected providers.
func NewSimulator(providers *chains.Providers) *Simulator {
	return &Simulator{providers: providers}
}

// Simulate executes the call read-only and, on success, estimates gas.
// A revert produces Success=false with the reason preserved verbatim; it
// is not an error at this layer.
func (s *Simulator) Simulate(ctx context.Context, meta CallMeta) (SimResult, error) {
	client, err := s.providers.Client(meta.ChainID)
	if err != nil {
		return SimResult{}, err
	}
	msg := ethereum.CallMsg{
		From:  meta.From,
		To:    &meta.To,
		Data:  meta.Data,
		Value: meta.Value,
	}

	cctx, cancel := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel()
	if _, err := client.CallContract(cctx, msg, nil); err != nil {
		if ctx.Err() != nil {
			return SimResult{}, ctx.Err()
		}
		return SimResult{Success: false, Revert: RevertReason(err)}, nil
	}

	ectx, cancel2 := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel2()
	gas, err := client.EstimateGas(ectx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return SimResult{}, ctx.Err()
		}
		return SimResult{Success: false, Revert: RevertReason(err)}, nil
	}
	return SimResult{Success: true, GasUsed: gas}, nil
}

// RevertReason extracts a human-readable revert reason from an RPC error,
// decoding the standard Error(string) wrapper when the node returned
// revert data. Falls back to the raw error text.
func RevertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if data := de.ErrorData(); data != nil {
			if s, ok := data.(string); ok {
				if reason, derr := decodeRevertHex(s); derr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func decodeRevertHex(s string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return "", err
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", fmt.Errorf("pricing: undecodable revert data: %w", err)
	}
	return reason, nil
}
