package exec

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/pricing"
)

// fallbackGasLimit is used when eth_estimateGas fails at build time; the
// simulation stage will still surface the underlying revert.
const fallbackGasLimit = 1_500_000

var gwei = big.NewInt(1_000_000_000)

// BuiltTx is the unsigned EIP-1559 transaction produced by Stage 3. The
// nonce is assigned later, under the signing gate, so that PAPER runs
// never consume one.
type BuiltTx struct {
	ChainID   uint64
	To        common.Address
	Data      []byte
	Value     *big.Int
	Gas       uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	From      common.Address
}

// CallMeta renders the built transaction as a simulation call.
func (b *BuiltTx) CallMeta() pricing.CallMeta {
	return pricing.CallMeta{
		ChainID: b.ChainID,
		From:    b.From,
		To:      b.To,
		Data:    b.Data,
		Value:   b.Value,
	}
}

// ToTransaction materializes the transaction with its nonce.
func (b *BuiltTx) ToTransaction(nonce uint64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(b.ChainID),
		Nonce:     nonce,
		GasTipCap: b.GasTipCap,
		GasFeeCap: b.GasFeeCap,
		Gas:       b.Gas,
		To:        &b.To,
		Value:     b.Value,
		Data:      b.Data,
	})
}

// build is Stage 3. It encodes the executor calldata, enforces the
// calldata size cap, and prices the transaction within the fee ceiling:
// maxPriorityFee <= maxFee <= MAX_BASE_FEE_GWEI.
func (p *Pipeline) build(ctx context.Context, route *Route) (*BuiltTx, *PipelineError) {
	if route.CrossChain() {
		return nil, reject(StageBuild, CodeCrossChainUnsupported,
			"cross-chain route requires a multi-transaction bridge; single-tx builder cannot express it")
	}

	executor, ok := p.executorAddrs[route.ChainID]
	if !ok {
		return nil, reject(StageBuild, CodeInvalidSignal, "no executor contract configured for chain %d", route.ChainID)
	}

	data, err := EncodeExecuteCalldata(route)
	if err != nil {
		return nil, &PipelineError{Stage: StageBuild, Code: CodeInvalidSignal, Reason: err.Error(), Err: err}
	}
	if len(data) > MaxCalldataBytes {
		return nil, reject(StageBuild, CodeCalldataTooLarge, "calldata exceeds %d bytes", MaxCalldataBytes)
	}

	client, err := p.providers.Client(route.ChainID)
	if err != nil {
		return nil, &PipelineError{Stage: StageBuild, Code: CodeRPC, Reason: err.Error(), Err: err}
	}

	// Fee ceiling in wei.
	feeCeiling := new(big.Int).Mul(big.NewInt(p.maxBaseFeeGwei), gwei)

	tip := new(big.Int).Mul(big.NewInt(route.Gas.PriorityFeeGwei), gwei)
	if tip.Sign() <= 0 || tip.Cmp(feeCeiling) > 0 {
		tip = new(big.Int).Set(feeCeiling)
	}

	feeCap := new(big.Int).Set(feeCeiling)
	hctx, cancel := context.WithTimeout(ctx, chains.ReadTimeout)
	head, herr := client.HeaderByNumber(hctx, nil)
	cancel()
	if herr == nil && head.BaseFee != nil {
		// 2x current base fee + tip absorbs short-term base-fee growth.
		want := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		want.Add(want, tip)
		if want.Cmp(feeCeiling) < 0 {
			feeCap = want
		}
	}
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}

	built := &BuiltTx{
		ChainID:   route.ChainID,
		To:        executor,
		Data:      data,
		Value:     new(big.Int),
		GasFeeCap: feeCap,
		GasTipCap: tip,
		From:      p.sender,
	}

	ectx, cancel2 := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel2()
	estimate, eerr := client.EstimateGas(ectx, ethereum.CallMsg{
		From:  p.sender,
		To:    &executor,
		Data:  data,
		Value: built.Value,
	})
	if eerr != nil || estimate == 0 {
		built.Gas = fallbackGasLimit
	} else {
		built.Gas = uint64(float64(estimate) * p.gasLimitMultiplier)
	}
	return built, nil
}
