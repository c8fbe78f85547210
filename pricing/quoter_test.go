package pricing

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/registry"
)

// stubClient scripts the NodeClient surface for quoter tests.
type stubClient struct {
	chainID      *big.Int
	callContract func(msg ethereum.CallMsg) ([]byte, error)
	calls        atomic.Int64
}

func (s *stubClient) ChainID(context.Context) (*big.Int, error)   { return s.chainID, nil }
func (s *stubClient) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (s *stubClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(30_000_000_000)}, nil
}
func (s *stubClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}
func (s *stubClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *stubClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	s.calls.Add(1)
	return s.callContract(msg)
}
func (s *stubClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 400_000, nil
}
func (s *stubClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (s *stubClient) SendTransaction(context.Context, *types.Transaction) error { return nil }

func testProviders(t *testing.T, stub *stubClient) *chains.Providers {
	t.Helper()
	reg, err := registry.New(
		[]registry.Chain{{ID: 7, Name: "test", Status: registry.StatusEnabled}},
		nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	stub.chainID = big.NewInt(7)
	providers, err := chains.Connect(context.Background(), reg,
		map[string]string{"test": "stub://"}, nil,
		func(context.Context, string) (chains.NodeClient, error) { return stub, nil },
		zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return providers
}

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	router = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func packV2Amounts(t *testing.T, amounts ...int64) []byte {
	t.Helper()
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = big.NewInt(a)
	}
	ret, err := univ2ABI.Methods["getAmountsOut"].Outputs.Pack(out)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return ret
}

func TestQuoteHopUniV2(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(msg ethereum.CallMsg) ([]byte, error) {
		if *msg.To != router {
			t.Fatalf("call target = %s, want router", msg.To)
		}
		sel := univ2ABI.Methods["getAmountsOut"].ID
		if !bytes.HasPrefix(msg.Data, sel) {
			t.Fatalf("wrong selector %x", msg.Data[:4])
		}
		return packV2Amounts(t, 1_000_000, 997_000), nil
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	out, err := q.QuoteHop(context.Background(), Hop{
		ChainID: 7, Family: registry.FamilyUniV2, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("QuoteHop: %v", err)
	}
	if out.Cmp(big.NewInt(997_000)) != 0 {
		t.Fatalf("out = %s, want 997000", out)
	}
}

func TestQuoteHopCachesWithinTTL(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(ethereum.CallMsg) ([]byte, error) {
		return packV2Amounts(t, 1_000_000, 997_000), nil
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())
	hop := Hop{
		ChainID: 7, Family: registry.FamilyUniV2, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1_000_000),
	}

	if _, err := q.QuoteHop(context.Background(), hop); err != nil {
		t.Fatalf("first quote: %v", err)
	}
	if _, err := q.QuoteHop(context.Background(), hop); err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if n := stub.calls.Load(); n != 1 {
		t.Fatalf("rpc calls = %d, want 1 (cache hit)", n)
	}
}

func TestQuoteHopRevertIsUnpriceable(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("execution reverted")
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	_, err := q.QuoteHop(context.Background(), Hop{
		ChainID: 7, Family: registry.FamilyUniV2, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1),
	})
	if !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("err = %v, want ErrUnpriceable", err)
	}
}

func TestQuoteHopRejectsZeroOutputAndBadInput(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(ethereum.CallMsg) ([]byte, error) {
		return packV2Amounts(t, 1_000_000, 0), nil
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	hop := Hop{ChainID: 7, Family: registry.FamilyUniV2, Router: router,
		TokenIn: tokenA, TokenOut: tokenB}

	hop.AmountIn = big.NewInt(1)
	if _, err := q.QuoteHop(context.Background(), hop); !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("zero output: err = %v, want ErrUnpriceable", err)
	}
	hop.AmountIn = nil
	if _, err := q.QuoteHop(context.Background(), hop); !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("nil input: err = %v, want ErrUnpriceable", err)
	}
}

func TestQuoteHopUniV3RequiresQuoter(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(ethereum.CallMsg) ([]byte, error) { return nil, nil }
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	_, err := q.QuoteHop(context.Background(), Hop{
		ChainID: 7, Family: registry.FamilyUniV3, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1),
		Extra: EncodeV3Extra(3000),
	})
	if !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("missing quoter: err = %v, want ErrUnpriceable", err)
	}
}

func TestQuoteHopCurve(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(msg ethereum.CallMsg) ([]byte, error) {
		sel := curveABI.Methods["get_dy"].ID
		if !bytes.HasPrefix(msg.Data, sel) {
			t.Fatalf("wrong selector %x", msg.Data[:4])
		}
		return curveABI.Methods["get_dy"].Outputs.Pack(big.NewInt(998_500))
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	out, err := q.QuoteHop(context.Background(), Hop{
		ChainID: 7, Family: registry.FamilyCurve, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1_000_000),
		Extra: EncodeCurveExtra(1, 2),
	})
	if err != nil {
		t.Fatalf("QuoteHop: %v", err)
	}
	if out.Cmp(big.NewInt(998_500)) != 0 {
		t.Fatalf("out = %s, want 998500", out)
	}
}

func TestQuoteRouteChainsOutputs(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(msg ethereum.CallMsg) ([]byte, error) {
		// Every hop pays out 2x its input.
		vals, err := univ2ABI.Methods["getAmountsOut"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		in := vals[0].(*big.Int)
		return univ2ABI.Methods["getAmountsOut"].Outputs.Pack(
			[]*big.Int{in, new(big.Int).Mul(in, big.NewInt(2))})
	}
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	mk := func(in, out common.Address) Hop {
		return Hop{ChainID: 7, Family: registry.FamilyUniV2, Router: router,
			TokenIn: in, TokenOut: out}
	}
	first := mk(tokenA, tokenB)
	first.AmountIn = big.NewInt(100)
	got, err := q.QuoteRoute(context.Background(), []Hop{first, mk(tokenB, tokenA)})
	if err != nil {
		t.Fatalf("QuoteRoute: %v", err)
	}
	if got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("route out = %s, want 400", got)
	}
}

func TestQuoteRouteRejectsCrossChain(t *testing.T) {
	stub := &stubClient{}
	stub.callContract = func(ethereum.CallMsg) ([]byte, error) { return nil, nil }
	q := NewQuoter(testProviders(t, stub), zap.NewNop())

	a := Hop{ChainID: 7, Family: registry.FamilyUniV2, Router: router,
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(100)}
	b := a
	b.ChainID = 8
	if _, err := q.QuoteRoute(context.Background(), []Hop{a, b}); !errors.Is(err, ErrUnpriceable) {
		t.Fatalf("cross-chain route: err = %v, want ErrUnpriceable", err)
	}
}
