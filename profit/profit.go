// Package profit implements the safety kernel's arithmetic: safe flash
// loan sizing from pool depth, gas cost conversion, and net profit
// computation. Everything USD-denominated is a fixed-point decimal; raw
// token amounts are unbounded integers. Floats never decide
// profitability.
package profit

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Flash loan source selectors, matching the executor contract's uint8.
type FlashSource uint8

const (
	SourceBalancerV3 FlashSource = 1
	SourceAaveV3     FlashSource = 2
)

func (s FlashSource) String() string {
	switch s {
	case SourceBalancerV3:
		return "balancer-v3"
	case SourceAaveV3:
		return "aave-v3"
	}
	return "unknown"
}

// ErrInsufficientLiquidity reports that the requested loan cannot be
// sized within policy bounds; the candidate is discarded.
var ErrInsufficientLiquidity = errors.New("profit: insufficient liquidity")

// Policy bounds for loan sizing.
var (
	// MaxVaultFraction caps the loan at this fraction of the source
	// vault's token balance.
	MaxVaultFraction = decimal.RequireFromString("0.20")

	// MinLoanUSD is the smallest loan worth taking; fixed costs dominate
	// below it.
	MinLoanUSD = decimal.NewFromInt(10_000)
)

// AaveFlashFeeRate is Aave V3's flash-loan premium on the principal.
// Balancer V3 charges nothing.
var AaveFlashFeeRate = decimal.RequireFromString("0.0005")

// SafeLoan sizes a flash loan. want is the desired principal in raw token
// units, vaultBalance the source vault's raw balance of that token, and
// tokenUSD the USD value of one whole token with the given decimals.
// minUSD is the loan floor; non-positive values fall back to MinLoanUSD.
//
// The loan is capped at MaxVaultFraction of the vault; if the capped
// amount is worth less than the floor the request is rejected with a
// zero amount and ErrInsufficientLiquidity.
func SafeLoan(vaultBalance, want *big.Int, decimals uint8, tokenUSD, minUSD decimal.Decimal) (*big.Int, error) {
	if minUSD.Sign() <= 0 {
		minUSD = MinLoanUSD
	}
	if vaultBalance == nil || want == nil || vaultBalance.Sign() <= 0 || want.Sign() <= 0 {
		return new(big.Int), ErrInsufficientLiquidity
	}

	// cap = floor(vaultBalance * fraction)
	capRaw := decimal.NewFromBigInt(vaultBalance, 0).Mul(MaxVaultFraction).Floor().BigInt()

	loan := new(big.Int).Set(want)
	if loan.Cmp(capRaw) > 0 {
		loan.Set(capRaw)
	}
	if loan.Sign() <= 0 {
		return new(big.Int), ErrInsufficientLiquidity
	}
	if RawToUSD(loan, decimals, tokenUSD).LessThan(minUSD) {
		return new(big.Int), ErrInsufficientLiquidity
	}
	return loan, nil
}

// FlashFeeUSD returns the flash-loan fee in USD for the given source and
// principal value.
func FlashFeeUSD(source FlashSource, principalUSD decimal.Decimal) decimal.Decimal {
	switch source {
	case SourceAaveV3:
		return principalUSD.Mul(AaveFlashFeeRate)
	default:
		return decimal.Zero
	}
}

// GasCostUSD converts a gas expenditure into USD: gasUnits x gasPriceWei
// x nativeUSD / 1e18.
func GasCostUSD(gasUnits uint64, gasPriceWei *big.Int, nativeUSD decimal.Decimal) decimal.Decimal {
	if gasPriceWei == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPriceWei)
	return decimal.NewFromBigInt(wei, -18).Mul(nativeUSD)
}

// RawToUSD converts a raw token amount to USD given the token's decimals
// and unit price.
func RawToUSD(raw *big.Int, decimals uint8, tokenUSD decimal.Decimal) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).Mul(tokenUSD)
}

// USDToRaw converts a USD amount to raw token units, rounding down.
func USDToRaw(usd decimal.Decimal, decimals uint8, tokenUSD decimal.Decimal) *big.Int {
	if tokenUSD.IsZero() {
		return new(big.Int)
	}
	return usd.Div(tokenUSD).Shift(int32(decimals)).Floor().BigInt()
}

// Result is the outcome of a net-profit computation.
type Result struct {
	Gross      decimal.Decimal
	Net        decimal.Decimal
	Profitable bool
}

// Compute applies the profit equation:
//
//	net = revenue - cost - bridgeFee - gasCost - flashFee
//
// and compares against minProfit. All inputs are USD decimals.
func Compute(cost, revenue, bridgeFee, gasCost, flashFee, minProfit decimal.Decimal) Result {
	gross := revenue.Sub(cost)
	net := gross.Sub(bridgeFee).Sub(gasCost).Sub(flashFee)
	return Result{
		Gross:      gross,
		Net:        net,
		Profitable: net.GreaterThanOrEqual(minProfit),
	}
}
