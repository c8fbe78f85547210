package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Inline ABI fragments for the three quoter surfaces. Only the functions
// the engine calls are declared.

const uniV2RouterABI = `[{
	"name":"getAmountsOut","type":"function","stateMutability":"view",
	"inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"path","type":"address[]"}],
	"outputs":[{"name":"amounts","type":"uint256[]"}]
}]`

const quoterV2ABI = `[{
	"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
	"inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"fee","type":"uint24"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	"outputs":[
		{"name":"amountOut","type":"uint256"},
		{"name":"sqrtPriceX96After","type":"uint160"},
		{"name":"initializedTicksCrossed","type":"uint32"},
		{"name":"gasEstimate","type":"uint256"}]
}]`

const curvePoolABI = `[{
	"name":"get_dy","type":"function","stateMutability":"view",
	"inputs":[
		{"name":"i","type":"int128"},
		{"name":"j","type":"int128"},
		{"name":"dx","type":"uint256"}],
	"outputs":[{"name":"","type":"uint256"}]
}]`

const erc20ABI = `[{
	"name":"balanceOf","type":"function","stateMutability":"view",
	"inputs":[{"name":"owner","type":"address"}],
	"outputs":[{"name":"","type":"uint256"}]
}]`

var (
	univ2ABI  abi.ABI
	quoterABI abi.ABI
	curveABI  abi.ABI
	tokenABI  abi.ABI

	// extras codecs, shared with the transaction builder
	uint24Args abi.Arguments
	int128Args abi.Arguments
)

func init() {
	univ2ABI = mustABI(uniV2RouterABI)
	quoterABI = mustABI(quoterV2ABI)
	curveABI = mustABI(curvePoolABI)
	tokenABI = mustABI(erc20ABI)

	uint24Ty, _ := abi.NewType("uint24", "", nil)
	int128Ty, _ := abi.NewType("int128", "", nil)
	uint24Args = abi.Arguments{{Type: uint24Ty}}
	int128Args = abi.Arguments{{Type: int128Ty}, {Type: int128Ty}}
}

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EncodeV3Extra ABI-encodes a UniV3 pool fee for a hop's extra bytes.
func EncodeV3Extra(fee uint32) []byte {
	b, err := uint24Args.Pack(new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		panic(err) // uint24 packing of a small constant cannot fail
	}
	return b
}

// DecodeV3Extra recovers the pool fee from a hop's extra bytes.
func DecodeV3Extra(extra []byte) (uint32, error) {
	vals, err := uint24Args.Unpack(extra)
	if err != nil {
		return 0, fmt.Errorf("pricing: bad univ3 extra: %w", err)
	}
	fee := vals[0].(*big.Int)
	if !fee.IsUint64() || fee.Uint64() > 1_000_000 {
		return 0, fmt.Errorf("pricing: univ3 fee out of range: %s", fee)
	}
	return uint32(fee.Uint64()), nil
}

// EncodeCurveExtra ABI-encodes the (i, j) coin indices for a Curve hop.
func EncodeCurveExtra(i, j int64) []byte {
	b, err := int128Args.Pack(big.NewInt(i), big.NewInt(j))
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeCurveExtra recovers the (i, j) coin indices from a Curve hop.
func DecodeCurveExtra(extra []byte) (int64, int64, error) {
	vals, err := int128Args.Unpack(extra)
	if err != nil {
		return 0, 0, fmt.Errorf("pricing: bad curve extra: %w", err)
	}
	i := vals[0].(*big.Int)
	j := vals[1].(*big.Int)
	if !i.IsInt64() || !j.IsInt64() {
		return 0, 0, fmt.Errorf("pricing: curve indices out of range")
	}
	return i.Int64(), j.Int64(), nil
}
