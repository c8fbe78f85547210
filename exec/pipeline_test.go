package exec

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/config"
	"github.com/dexarb/arbiter/pricing"
	"github.com/dexarb/arbiter/registry"
)

// nodeStub scripts the RPC surface for pipeline tests.
type nodeStub struct {
	chainID *big.Int

	mu           sync.Mutex
	pendingNonce uint64
	callErr      error
	sendErr      func(tx *types.Transaction) error
	sent         []*types.Transaction
}

func (s *nodeStub) ChainID(context.Context) (*big.Int, error)   { return s.chainID, nil }
func (s *nodeStub) BlockNumber(context.Context) (uint64, error) { return 1000, nil }
func (s *nodeStub) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(30_000_000_000)}, nil
}
func (s *nodeStub) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}
func (s *nodeStub) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (s *nodeStub) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	return []byte{}, nil
}
func (s *nodeStub) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return 0, s.callErr
	}
	return 400_000, nil
}
func (s *nodeStub) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingNonce, nil
}
func (s *nodeStub) SendTransaction(_ context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		if err := s.sendErr(tx); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, tx)
	return nil
}

func (s *nodeStub) setCallErr(err error) {
	s.mu.Lock()
	s.callErr = err
	s.mu.Unlock()
}

func (s *nodeStub) sentTxs() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Transaction(nil), s.sent...)
}

// recorder captures emitted events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Emit(event string, _ interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type testRig struct {
	pipeline *Pipeline
	polygon  *nodeStub
	events   *recorder
}

var testExecutor = common.HexToAddress("0x00000000000000000000000000000000000000ee")

func newRig(t *testing.T, mode config.Mode) *testRig {
	t.Helper()
	reg, err := registry.New(registry.DefaultChains(), registry.DefaultTokens(), registry.DefaultDexes())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	polygon := &nodeStub{chainID: big.NewInt(137)}
	mainnet := &nodeStub{chainID: big.NewInt(1)}
	dial := func(_ context.Context, url string) (chains.NodeClient, error) {
		if strings.HasPrefix(url, "poly") {
			return polygon, nil
		}
		return mainnet, nil
	}
	providers, err := chains.Connect(context.Background(), reg,
		map[string]string{"polygon": "poly://", "ethereum": "eth://"}, nil, dial, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	opts := Options{
		Mode:               mode,
		Registry:           reg,
		Providers:          providers,
		Simulator:          pricing.NewSimulator(providers),
		ExecutorAddrs:      map[uint64]common.Address{137: testExecutor},
		MaxBaseFeeGwei:     500,
		GasLimitMultiplier: 1.2,
		MaxConcurrentTxs:   3,
		MempoolFallback:    true,
		Log:                zap.NewNop(),
	}
	if mode == config.ModeLive {
		k, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		opts.Key = k
	}
	events := &recorder{}
	opts.Emitter = events
	return &testRig{pipeline: New(opts), polygon: polygon, events: events}
}

func TestPaperExecutionStopsAfterSimulation(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	res := rig.pipeline.Execute(context.Background(), validSignal())

	if !res.Success {
		t.Fatalf("paper execution failed: %+v", res)
	}
	if res.Mode != "PAPER" {
		t.Fatalf("mode = %s", res.Mode)
	}
	if res.TxHash != "" {
		t.Fatal("paper mode must not produce a tx hash")
	}
	if res.Simulation == nil || !res.Simulation.Success {
		t.Fatalf("simulation = %+v", res.Simulation)
	}
	if len(rig.polygon.sentTxs()) != 0 {
		t.Fatal("paper mode broadcast a transaction")
	}
	if !rig.events.has("paper_execution") {
		t.Fatal("paper_execution event not emitted")
	}
	snap := rig.pipeline.Stats().SnapshotWith(rig.pipeline.Breaker())
	if snap.PaperExecuted != 1 || snap.TotalSignals != 1 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestChainGateBlocksObservationChain(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	sig := validSignal()
	sig.ChainID = 1

	res := rig.pipeline.Execute(context.Background(), sig)
	if res.Success {
		t.Fatal("observation chain execution accepted")
	}
	if res.Error != "ExecutionBlocked: chain 1 disabled" {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Stage != "chain-gate" || res.Code != "execution_blocked" {
		t.Fatalf("stage/code = %s/%s", res.Stage, res.Code)
	}
	snap := rig.pipeline.Stats().SnapshotWith(rig.pipeline.Breaker())
	if snap.Failed != 1 {
		t.Fatalf("failed = %d, want 1", snap.Failed)
	}
	// A gate refusal must not feed the breaker.
	if rig.pipeline.Breaker().Failures() != 0 {
		t.Fatalf("breaker failures = %d, want 0", rig.pipeline.Breaker().Failures())
	}
}

func TestUnknownChainBlocked(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	sig := validSignal()
	sig.ChainID = 56

	res := rig.pipeline.Execute(context.Background(), sig)
	if res.Success || res.Code != "execution_blocked" {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Error, "not configured") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestCrossChainRejectedAtBuild(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	sig := validSignal()
	sig.DestChainID = 1

	res := rig.pipeline.Execute(context.Background(), sig)
	if res.Success {
		t.Fatal("cross-chain signal accepted")
	}
	if res.Stage != "build" || res.Code != "cross_chain_unsupported" {
		t.Fatalf("stage/code = %s/%s", res.Stage, res.Code)
	}
}

func TestOversizedCalldataRejectedAtBuild(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	sig := validSignal()
	// A 33 KB extra pushes the encoded calldata past the relay's 32 000
	// byte submission limit.
	sig.Extras[0] = "0x" + strings.Repeat("00", 33_000)

	res := rig.pipeline.Execute(context.Background(), sig)
	if res.Success {
		t.Fatal("oversized calldata accepted")
	}
	if res.Stage != "build" || res.Code != "calldata_too_large" {
		t.Fatalf("stage/code = %s/%s", res.Stage, res.Code)
	}
	if !strings.Contains(res.Error, "calldata exceeds 32000 bytes") {
		t.Fatalf("error = %q", res.Error)
	}
	if len(rig.polygon.sentTxs()) != 0 {
		t.Fatal("rejected signal broadcast a transaction")
	}
}

func TestBuildFeeOrdering(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	ceiling := new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000_000))

	// Tip recommendations below, inside, and far above the ceiling must
	// all come out as tip <= fee cap <= MAX_BASE_FEE_GWEI in wei.
	for _, tipGwei := range []int64{1, 50, 100_000} {
		sig := validSignal()
		sig.Gas = &GasParams{PriorityFeeGwei: tipGwei, SlippageBps: 50, DeadlineSeconds: 60}
		route, perr := validate(sig)
		if perr != nil {
			t.Fatalf("tip %d: validate: %v", tipGwei, perr)
		}
		built, perr := rig.pipeline.build(context.Background(), route)
		if perr != nil {
			t.Fatalf("tip %d: build: %v", tipGwei, perr)
		}
		if built.GasTipCap.Sign() <= 0 {
			t.Fatalf("tip %d: non-positive tip %s", tipGwei, built.GasTipCap)
		}
		if built.GasTipCap.Cmp(built.GasFeeCap) > 0 {
			t.Fatalf("tip %d: tip %s above fee cap %s", tipGwei, built.GasTipCap, built.GasFeeCap)
		}
		if built.GasFeeCap.Cmp(ceiling) > 0 {
			t.Fatalf("tip %d: fee cap %s above ceiling %s", tipGwei, built.GasFeeCap, ceiling)
		}
		tx := built.ToTransaction(0)
		if tx.GasTipCap().Cmp(tx.GasFeeCap()) > 0 {
			t.Fatalf("tip %d: materialized tx violates fee ordering", tipGwei)
		}
	}
}

func TestSimulationRevertPreservedVerbatim(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	rig.polygon.setCallErr(errors.New("execution reverted: UniswapV2: K"))

	res := rig.pipeline.Execute(context.Background(), validSignal())
	if res.Success {
		t.Fatal("reverting signal accepted")
	}
	if res.Stage != "simulate" || res.Code != "simulation_reverted" {
		t.Fatalf("stage/code = %s/%s", res.Stage, res.Code)
	}
	if !strings.Contains(res.Error, "UniswapV2: K") {
		t.Fatalf("revert reason lost: %q", res.Error)
	}
}

func TestLiveExecutionBroadcastsWithSequentialNonces(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	rig.polygon.pendingNonce = 7

	first := rig.pipeline.Execute(context.Background(), validSignal())
	if !first.Success {
		t.Fatalf("live execution failed: %+v", first)
	}
	if first.Mode != "LIVE" || first.TxHash == "" {
		t.Fatalf("result = %+v", first)
	}

	second := rig.pipeline.Execute(context.Background(), validSignal())
	if !second.Success {
		t.Fatalf("second execution failed: %+v", second)
	}

	sent := rig.polygon.sentTxs()
	if len(sent) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(sent))
	}
	if sent[0].Nonce() != 7 || sent[1].Nonce() != 8 {
		t.Fatalf("nonces = %d,%d, want 7,8", sent[0].Nonce(), sent[1].Nonce())
	}
	if sent[0].To() == nil || *sent[0].To() != testExecutor {
		t.Fatalf("to = %v, want executor", sent[0].To())
	}
	if !rig.events.has("live_execution") {
		t.Fatal("live_execution event not emitted")
	}
	snap := rig.pipeline.Stats().SnapshotWith(rig.pipeline.Breaker())
	if snap.LiveExecuted != 2 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestNonceCollisionResyncsAndRetries(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	rig.polygon.pendingNonce = 3

	failed := false
	rig.polygon.sendErr = func(*types.Transaction) error {
		if !failed {
			failed = true
			return errors.New("nonce too low")
		}
		return nil
	}

	res := rig.pipeline.Execute(context.Background(), validSignal())
	if !res.Success {
		t.Fatalf("collision retry failed: %+v", res)
	}
	if len(rig.polygon.sentTxs()) != 1 {
		t.Fatalf("broadcasts = %d, want 1 after retry", len(rig.polygon.sentTxs()))
	}
}

func TestCircuitBreakerOpensAfterConsecutiveReverts(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	rig.polygon.setCallErr(errors.New("execution reverted"))

	for i := 0; i < 10; i++ {
		res := rig.pipeline.Execute(context.Background(), validSignal())
		if res.Code != "simulation_reverted" {
			t.Fatalf("attempt %d: code = %s", i, res.Code)
		}
	}
	if !rig.pipeline.Breaker().Open() {
		t.Fatal("breaker must be open after 10 consecutive failures")
	}

	// The next signal is refused before simulation.
	res := rig.pipeline.Execute(context.Background(), validSignal())
	if res.Code != "circuit_breaker_open" {
		t.Fatalf("code = %s, want circuit_breaker_open", res.Code)
	}

	// A success after cooldown resets the count.
	rig.setBreakerNow(time.Now().Add(2 * time.Minute))
	rig.polygon.setCallErr(nil)
	if res := rig.pipeline.Execute(context.Background(), validSignal()); !res.Success {
		t.Fatalf("post-cooldown execution failed: %+v", res)
	}
	if rig.pipeline.Breaker().Failures() != 0 {
		t.Fatal("success must reset the failure count")
	}
}

func (r *testRig) setBreakerNow(at time.Time) {
	b := r.pipeline.Breaker()
	b.mu.Lock()
	b.now = func() time.Time { return at }
	b.mu.Unlock()
}

func TestMissingExecutorAddress(t *testing.T) {
	rig := newRig(t, config.ModePaper)
	rig.pipeline.executorAddrs = map[uint64]common.Address{}

	res := rig.pipeline.Execute(context.Background(), validSignal())
	if res.Success || res.Stage != "build" {
		t.Fatalf("res = %+v", res)
	}
}

func TestSimulateEndpointRunsDryStagesOnly(t *testing.T) {
	rig := newRig(t, config.ModeLive)
	res := rig.pipeline.Simulate(context.Background(), validSignal())
	if !res.Success {
		t.Fatalf("simulate failed: %+v", res)
	}
	if res.TxHash != "" {
		t.Fatal("simulate must not broadcast")
	}
	if len(rig.polygon.sentTxs()) != 0 {
		t.Fatal("simulate broadcast a transaction")
	}
	// Simulate must not touch the counters.
	snap := rig.pipeline.Stats().SnapshotWith(rig.pipeline.Breaker())
	if snap.TotalSignals != 0 {
		t.Fatalf("stats mutated: %+v", snap)
	}
}
