package chains

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/registry"
)

type fakeClient struct {
	chainID  *big.Int
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	gasErr   error
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error)   { return f.chainID, nil }
func (f *fakeClient) BlockNumber(context.Context) (uint64, error) { return 100, nil }
func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}
func (f *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice != nil {
		return f.gasPrice, f.gasErr
	}
	return f.baseFee, f.gasErr
}
func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tip, f.gasErr
}
func (f *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) SendTransaction(context.Context, *types.Transaction) error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Chain{
		{ID: 137, Name: "polygon", Status: registry.StatusEnabled, GasMode: registry.GasModeEIP1559},
		{ID: 1, Name: "ethereum", Status: registry.StatusConfigured, GasMode: registry.GasModeEIP1559},
	}, nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestConnectProbesChainID(t *testing.T) {
	dial := func(_ context.Context, url string) (NodeClient, error) {
		switch url {
		case "polygon://":
			return &fakeClient{chainID: big.NewInt(137), baseFee: big.NewInt(30), tip: big.NewInt(1)}, nil
		case "ethereum://":
			return &fakeClient{chainID: big.NewInt(137)}, nil // wrong id on purpose
		}
		return nil, errors.New("no route")
	}
	p, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"polygon": "polygon://", "ethereum": "ethereum://"}, nil, dial, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := p.Client(137); err != nil {
		t.Fatalf("polygon client: %v", err)
	}
	// The mismatched observation chain is registered but disabled.
	if _, err := p.Client(1); err == nil {
		t.Fatal("chain-id mismatch must disable the chain")
	}
	if p.Count() != 2 {
		t.Fatalf("count = %d, want 2", p.Count())
	}
	if len(p.Healthy()) != 1 {
		t.Fatalf("healthy = %d, want 1", len(p.Healthy()))
	}
}

func TestConnectFatalOnEnabledChainFailure(t *testing.T) {
	dial := func(context.Context, string) (NodeClient, error) {
		return nil, errors.New("connection refused")
	}
	_, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"polygon": "polygon://"}, nil, dial, zap.NewNop())
	if err == nil {
		t.Fatal("probe failure on the execution chain must be fatal")
	}
}

func TestConnectMissingURLOnEnabledChainIsFatal(t *testing.T) {
	dial := func(context.Context, string) (NodeClient, error) {
		return &fakeClient{chainID: big.NewInt(1)}, nil
	}
	_, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"ethereum": "ethereum://"}, nil, dial, zap.NewNop())
	if err == nil {
		t.Fatal("missing URL for the execution chain must be fatal")
	}
}

func TestConnectUsesBackupOnPrimaryFailure(t *testing.T) {
	dial := func(_ context.Context, url string) (NodeClient, error) {
		if url == "primary://" {
			return nil, errors.New("primary down")
		}
		return &fakeClient{chainID: big.NewInt(137), baseFee: big.NewInt(30), tip: big.NewInt(1)}, nil
	}
	p, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"polygon": "primary://"},
		map[string]string{"polygon": "backup://"}, dial, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := p.Client(137); err != nil {
		t.Fatalf("backup failover did not produce a client: %v", err)
	}
}

func TestSampleGasSkipsFailingChains(t *testing.T) {
	dial := func(_ context.Context, url string) (NodeClient, error) {
		if url == "polygon://" {
			return &fakeClient{chainID: big.NewInt(137), baseFee: big.NewInt(30_000_000_000), tip: big.NewInt(2_000_000_000)}, nil
		}
		return &fakeClient{chainID: big.NewInt(1), gasErr: errors.New("timeout")}, nil
	}
	p, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"polygon": "polygon://", "ethereum": "ethereum://"}, nil, dial, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	samples := p.SampleGas(context.Background())
	s, ok := samples[137]
	if !ok {
		t.Fatal("no sample for the healthy chain")
	}
	want := big.NewInt(32_000_000_000)
	if s.GasPrice.Cmp(want) != 0 {
		t.Fatalf("gas price = %s, want base+tip = %s", s.GasPrice, want)
	}
	if _, ok := samples[1]; ok {
		t.Fatal("failing chain must be absent, not zero-valued")
	}
}

func TestSampleGasFallsBackOnMissingBaseFee(t *testing.T) {
	// An EIP-1559-mode chain whose endpoint serves pre-London headers
	// (nil base fee) must yield a legacy sample, not panic.
	dial := func(context.Context, string) (NodeClient, error) {
		return &fakeClient{
			chainID:  big.NewInt(137),
			tip:      big.NewInt(1_000_000_000),
			gasPrice: big.NewInt(45_000_000_000),
		}, nil
	}
	p, err := Connect(context.Background(), testRegistry(t),
		map[string]string{"polygon": "polygon://"}, nil, dial, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	samples := p.SampleGas(context.Background())
	s, ok := samples[137]
	if !ok {
		t.Fatal("no sample despite the legacy fallback")
	}
	if s.BaseFee != nil || s.TipCap != nil {
		t.Fatalf("pre-London sample must not carry 1559 fields: %+v", s)
	}
	if s.GasPrice.Cmp(big.NewInt(45_000_000_000)) != 0 {
		t.Fatalf("gas price = %s, want the suggested legacy price", s.GasPrice)
	}
}
