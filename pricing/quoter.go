// Package pricing quotes multi-hop swap outputs through on-chain quoter
// views and simulates built transactions before signing. Every quote is a
// read-only eth_call; a failed quote marks the candidate unpriceable and
// is never replaced with a fabricated number.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/registry"
)

// ErrUnpriceable marks a hop whose quoter call reverted or returned an
// impossible value. The candidate carrying it is discarded.
var ErrUnpriceable = errors.New("pricing: unpriceable")

// Hop is one swap step to be quoted. Extra carries the per-family ABI
// bytes defined by the executor calldata format: empty for UniV2,
// abi(uint24 fee) for UniV3, abi(int128 i, int128 j) for Curve.
type Hop struct {
	ChainID  uint64
	Family   registry.Family
	Router   common.Address
	Quoter   common.Address // UniV3 only; the chain-specific QuoterV2
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	Extra    []byte
}

// quoteCacheTTL bounds how long a quote may be reused. Roughly one
// Polygon block.
const quoteCacheTTL = 2 * time.Second

type cacheEntry struct {
	out *big.Int
	exp time.Time
}

// Quoter answers per-hop and per-route quote requests.
type Quoter struct {
	providers *chains.Providers
	cache     *lru.Cache
	log       *zap.Logger
}

// NewQuoter builds a Quoter over the connected providers.
func NewQuoter(providers *chains.Providers, log *zap.Logger) *Quoter {
	cache, _ := lru.New(4096)
	return &Quoter{providers: providers, cache: cache, log: log.Named("pricing")}
}

// QuoteHop returns the raw output amount for one hop, or ErrUnpriceable.
func (q *Quoter) QuoteHop(ctx context.Context, hop Hop) (*big.Int, error) {
	if hop.AmountIn == nil || hop.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive input", ErrUnpriceable)
	}

	key := fmt.Sprintf("%d/%s/%s/%s/%s/%x", hop.ChainID, hop.Router, hop.TokenIn, hop.TokenOut, hop.AmountIn, hop.Extra)
	if v, ok := q.cache.Get(key); ok {
		if e := v.(cacheEntry); time.Now().Before(e.exp) {
			return new(big.Int).Set(e.out), nil
		}
		q.cache.Remove(key)
	}

	client, err := q.providers.Client(hop.ChainID)
	if err != nil {
		return nil, err
	}

	var out *big.Int
	switch hop.Family {
	case registry.FamilyUniV2:
		out, err = quoteUniV2(ctx, client, hop)
	case registry.FamilyUniV3:
		out, err = quoteUniV3(ctx, client, hop)
	case registry.FamilyCurve:
		out, err = quoteCurve(ctx, client, hop)
	default:
		return nil, fmt.Errorf("%w: unknown family %d", ErrUnpriceable, hop.Family)
	}
	if err != nil {
		return nil, err
	}
	if out == nil || out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: quoter returned %v", ErrUnpriceable, out)
	}

	q.cache.Add(key, cacheEntry{out: new(big.Int).Set(out), exp: time.Now().Add(quoteCacheTTL)})
	return out, nil
}

// QuoteRoute chains hops, feeding each hop's output into the next. Hops
// must share a chain. Returns the final output amount.
func (q *Quoter) QuoteRoute(ctx context.Context, hops []Hop) (*big.Int, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("%w: empty route", ErrUnpriceable)
	}
	amount := hops[0].AmountIn
	for i := range hops {
		hop := hops[i]
		hop.AmountIn = amount
		if hop.ChainID != hops[0].ChainID {
			return nil, fmt.Errorf("%w: route crosses chains", ErrUnpriceable)
		}
		out, err := q.QuoteHop(ctx, hop)
		if err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

func call(ctx context.Context, client chains.NodeClient, to common.Address, data []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel()
	return client.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func quoteUniV2(ctx context.Context, client chains.NodeClient, hop Hop) (*big.Int, error) {
	data, err := univ2ABI.Pack("getAmountsOut", hop.AmountIn, []common.Address{hop.TokenIn, hop.TokenOut})
	if err != nil {
		return nil, err
	}
	ret, err := call(ctx, client, hop.Router, data)
	if err != nil {
		return nil, fmt.Errorf("%w: getAmountsOut: %v", ErrUnpriceable, err)
	}
	vals, err := univ2ABI.Unpack("getAmountsOut", ret)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnpriceable, err)
	}
	amounts := vals[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("%w: empty amounts", ErrUnpriceable)
	}
	return amounts[len(amounts)-1], nil
}

func quoteUniV3(ctx context.Context, client chains.NodeClient, hop Hop) (*big.Int, error) {
	if hop.Quoter == (common.Address{}) {
		return nil, fmt.Errorf("%w: no quoter configured for chain %d", ErrUnpriceable, hop.ChainID)
	}
	fee, err := DecodeV3Extra(hop.Extra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnpriceable, err)
	}
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{hop.TokenIn, hop.TokenOut, hop.AmountIn, new(big.Int).SetUint64(uint64(fee)), big.NewInt(0)}

	data, err := quoterABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, err
	}
	ret, err := call(ctx, client, hop.Quoter, data)
	if err != nil {
		return nil, fmt.Errorf("%w: quoteExactInputSingle: %v", ErrUnpriceable, err)
	}
	vals, err := quoterABI.Unpack("quoteExactInputSingle", ret)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnpriceable, err)
	}
	return vals[0].(*big.Int), nil
}

func quoteCurve(ctx context.Context, client chains.NodeClient, hop Hop) (*big.Int, error) {
	i, j, err := DecodeCurveExtra(hop.Extra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnpriceable, err)
	}
	data, err := curveABI.Pack("get_dy", big.NewInt(i), big.NewInt(j), hop.AmountIn)
	if err != nil {
		return nil, err
	}
	ret, err := call(ctx, client, hop.Router, data)
	if err != nil {
		return nil, fmt.Errorf("%w: get_dy: %v", ErrUnpriceable, err)
	}
	vals, err := curveABI.Unpack("get_dy", ret)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnpriceable, err)
	}
	return vals[0].(*big.Int), nil
}

// ERC20Balance reads token.balanceOf(holder). Used for flash-loan vault
// depth checks.
func (q *Quoter) ERC20Balance(ctx context.Context, chainID uint64, token, holder common.Address) (*big.Int, error) {
	client, err := q.providers.Client(chainID)
	if err != nil {
		return nil, err
	}
	data, err := tokenABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	ret, err := call(ctx, client, token, data)
	if err != nil {
		return nil, fmt.Errorf("pricing: balanceOf: %w", err)
	}
	vals, err := tokenABI.Unpack("balanceOf", ret)
	if err != nil {
		return nil, fmt.Errorf("pricing: balanceOf decode: %w", err)
	}
	return vals[0].(*big.Int), nil
}
