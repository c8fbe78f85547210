// Package scanner runs the discovery loop: sample gas, enumerate
// candidates from the token graph, evaluate them on a worker pool, and
// hand profitable signals to the execution sink. The loop is serial per
// iteration; only candidate evaluation fans out.
package scanner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/advisor"
	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/exec"
	"github.com/dexarb/arbiter/graph"
	"github.com/dexarb/arbiter/pricing"
	"github.com/dexarb/arbiter/profit"
	"github.com/dexarb/arbiter/registry"
)

// balancerVault is the Balancer V2/V3 vault, deployed at the same address
// on every supported chain. Flash loan depth is read from it.
var balancerVault = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")

const (
	// gasHoldDelay is how long the loop sleeps when the gas advisor says
	// prices are spiking.
	gasHoldDelay = 2 * time.Second

	// scanGasEstimate approximates a two-hop flash arbitrage for the
	// profitability screen; the builder re-estimates before execution.
	scanGasEstimate = 550_000

	// bridgeFeeUSD is the flat cross-chain bridging cost assumed during
	// screening.
	bridgeFeeUSD = 20
)

var stableSymbols = map[string]bool{"USDC": true, "USDT": true, "DAI": true}

// Sink receives profitable signals. The in-process pipeline and the
// remote HTTP client both implement it.
type Sink interface {
	Submit(ctx context.Context, sig *exec.Signal) error
}

// Options configure a Scanner.
type Options struct {
	Interval           time.Duration
	Workers            int
	QueueCap           int
	TradeSizesUSD      []int64
	MinProfitUSD       decimal.Decimal
	MinLoanUSD         decimal.Decimal // zero falls back to the policy default
	MaxSlippageBps     int64
	MaxPriorityFeeGwei int64
	Tiering            *graph.Tiering
}

// Scanner is the discovery loop.
type Scanner struct {
	reg       *registry.Registry
	graph     *graph.Graph
	quoter    *pricing.Quoter
	providers *chains.Providers
	gas       advisor.GasAdvisor
	params    advisor.ParamAdvisor
	sink      Sink
	log       *zap.Logger
	opts      Options

	sizes []decimal.Decimal
	queue chan *exec.Signal

	evaluated   atomic.Int64
	unpriceable atomic.Int64
	signals     atomic.Int64
	dropped     atomic.Int64
	workerErrs  atomic.Int64
}

// New assembles a Scanner. The sink must be non-nil.
func New(reg *registry.Registry, g *graph.Graph, quoter *pricing.Quoter, providers *chains.Providers,
	gas advisor.GasAdvisor, params advisor.ParamAdvisor, sink Sink, opts Options, log *zap.Logger) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 20
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 256
	}
	if opts.MaxPriorityFeeGwei <= 0 {
		opts.MaxPriorityFeeGwei = 100
	}
	if gas == nil {
		gas = advisor.NeverWait{}
	}
	if params == nil {
		params = advisor.StaticParams{}
	}
	s := &Scanner{
		reg:       reg,
		graph:     g,
		quoter:    quoter,
		providers: providers,
		gas:       gas,
		params:    params,
		sink:      sink,
		log:       log.Named("scanner"),
		opts:      opts,
		queue:     make(chan *exec.Signal, opts.QueueCap),
	}
	for _, usd := range opts.TradeSizesUSD {
		s.sizes = append(s.sizes, decimal.NewFromInt(usd))
	}
	if len(s.sizes) == 0 {
		s.sizes = []decimal.Decimal{decimal.NewFromInt(1000)}
	}
	return s
}

// Run drives the loop until ctx is cancelled. It drains in-flight work
// before returning; cancellation to return is bounded by the per-call
// RPC timeouts.
func (s *Scanner) Run(ctx context.Context) error {
	pool, err := ants.NewPool(s.opts.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var fwd sync.WaitGroup
	fwd.Add(1)
	go func() {
		defer fwd.Done()
		for sig := range s.queue {
			if err := s.sink.Submit(ctx, sig); err != nil {
				s.workerErrs.Add(1)
				s.log.Warn("signal delivery failed", zap.String("id", sig.ID), zap.Error(err))
			}
		}
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var iter uint64
	for {
		select {
		case <-ctx.Done():
			close(s.queue)
			fwd.Wait()
			s.log.Info("scan loop stopped",
				zap.Int64("evaluated", s.evaluated.Load()),
				zap.Int64("unpriceable", s.unpriceable.Load()),
				zap.Int64("signals", s.signals.Load()),
				zap.Int64("dropped", s.dropped.Load()),
				zap.Int64("worker_errors", s.workerErrs.Load()))
			return nil
		case <-ticker.C:
		}

		samples := s.providers.SampleGas(ctx)
		if s.holdForGas(samples) {
			s.log.Debug("gas trend rising, holding", zap.Duration("delay", gasHoldDelay))
			select {
			case <-ctx.Done():
				continue
			case <-time.After(gasHoldDelay):
			}
			continue
		}

		candidates := s.graph.Enumerate(s.sizes, s.opts.Tiering, iter)
		iter++

		var wg sync.WaitGroup
		for _, cand := range candidates {
			cand := cand
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				s.evaluate(ctx, cand, samples)
			}); err != nil {
				wg.Done()
				s.workerErrs.Add(1)
			}
		}
		wg.Wait()
	}
}

// holdForGas feeds the enabled chain's sample to the gas advisor.
func (s *Scanner) holdForGas(samples map[uint64]chains.GasSample) bool {
	enabled, err := s.reg.EnabledChain()
	if err != nil {
		return false
	}
	sample, ok := samples[enabled.ID]
	if !ok || sample.GasPrice == nil {
		return false
	}
	return s.gas.ShouldWait([]*big.Int{sample.GasPrice})
}

// evaluate prices one candidate and emits a signal if it clears the
// profit floor. Worker errors are counted, never propagated; a scan
// iteration must survive any single candidate.
func (s *Scanner) evaluate(ctx context.Context, cand graph.Candidate, samples map[uint64]chains.GasSample) {
	s.evaluated.Add(1)
	var err error
	if cand.CrossChain() {
		err = s.evaluateCrossChain(ctx, cand, samples)
	} else {
		err = s.evaluateIntraChain(ctx, cand, samples)
	}
	switch {
	case err == nil:
	case errors.Is(err, pricing.ErrUnpriceable), errors.Is(err, profit.ErrInsufficientLiquidity):
		s.unpriceable.Add(1)
	default:
		s.workerErrs.Add(1)
		s.log.Debug("candidate evaluation failed", zap.String("candidate", cand.String()), zap.Error(err))
	}
}

// evaluateIntraChain screens a two-leg flash arbitrage: borrow USDC, buy
// the symbol on venue A, sell it back on venue B.
func (s *Scanner) evaluateIntraChain(ctx context.Context, cand graph.Candidate, samples map[uint64]chains.GasSample) error {
	if cand.Symbol == "USDC" {
		return nil // loan token cannot trade against itself
	}
	one := decimal.NewFromInt(1)

	usdc, err := s.reg.Token(cand.SourceChain, "USDC")
	if err != nil {
		return nil
	}
	tok, err := s.reg.Token(cand.SourceChain, cand.Symbol)
	if err != nil {
		return nil
	}
	dexA, err := s.reg.Dex(cand.SourceChain, cand.DexA)
	if err != nil {
		return nil
	}
	dexB, err := s.reg.Dex(cand.SourceChain, cand.DexB)
	if err != nil {
		return nil
	}

	hopA, ok := s.buildHop(dexA, usdc, tok)
	if !ok {
		return nil
	}
	hopB, ok := s.buildHop(dexB, tok, usdc)
	if !ok {
		return nil
	}

	want := profit.USDToRaw(cand.TradeSizeUSD, usdc.Decimals, one)
	vault, err := s.quoter.ERC20Balance(ctx, cand.SourceChain, usdc.Address, balancerVault)
	if err != nil {
		return err
	}
	loan, err := profit.SafeLoan(vault, want, usdc.Decimals, one, s.opts.MinLoanUSD)
	if err != nil {
		return err
	}

	hopA.AmountIn = loan
	out, err := s.quoter.QuoteRoute(ctx, []pricing.Hop{hopA, hopB})
	if err != nil {
		return err
	}

	cost := profit.RawToUSD(loan, usdc.Decimals, one)
	revenue := profit.RawToUSD(out, usdc.Decimals, one)
	gasCost := s.gasCostUSD(cand.SourceChain, samples)
	flashFee := profit.FlashFeeUSD(profit.SourceBalancerV3, cost)

	res := profit.Compute(cost, revenue, decimal.Zero, gasCost, flashFee, s.opts.MinProfitUSD)
	if !res.Profitable {
		return nil
	}

	params := advisor.Clamp(
		s.params.Recommend(cand.SourceChain, advisor.UrgencyNormal),
		s.opts.MaxPriorityFeeGwei, s.opts.MaxSlippageBps)

	net, _ := res.Net.Float64()
	s.enqueue(&exec.Signal{
		ID:          uuid.NewString(),
		ChainID:     cand.SourceChain,
		Token:       usdc.Address.Hex(),
		Amount:      loan.String(),
		FlashSource: uint8(profit.SourceBalancerV3),
		Protocols:   []uint8{uint8(dexA.Family), uint8(dexB.Family)},
		Routers:     []string{dexA.Router.Hex(), dexB.Router.Hex()},
		Path:        []string{tok.Address.Hex(), usdc.Address.Hex()},
		Extras:      []string{hexutil.Encode(hopA.Extra), hexutil.Encode(hopB.Extra)},
		Gas: &exec.GasParams{
			PriorityFeeGwei: params.PriorityFeeGwei,
			SlippageBps:     params.SlippageBps,
			DeadlineSeconds: params.DeadlineSeconds,
		},
		ExpectedProfit: net,
	})
	return nil
}

// evaluateCrossChain screens a bridge candidate from the per-chain USD
// price differential. Emitted signals carry the bridge hop; the builder
// refuses them today, so they surface in stats and logs until a
// multi-transaction path exists.
func (s *Scanner) evaluateCrossChain(ctx context.Context, cand graph.Candidate, samples map[uint64]chains.GasSample) error {
	if stableSymbols[cand.Symbol] {
		return nil // no stable-stable differential worth a bridge
	}
	srcPrice, err := s.priceUSD(ctx, cand.SourceChain, cand.Symbol)
	if err != nil {
		return err
	}
	dstPrice, err := s.priceUSD(ctx, cand.DestChain, cand.Symbol)
	if err != nil {
		return err
	}
	if srcPrice.IsZero() {
		return nil
	}

	cost := cand.TradeSizeUSD
	revenue := cost.Mul(dstPrice).Div(srcPrice)
	gasCost := s.gasCostUSD(cand.SourceChain, samples).Add(s.gasCostUSD(cand.DestChain, samples))

	res := profit.Compute(cost, revenue, decimal.NewFromInt(bridgeFeeUSD), gasCost, decimal.Zero, s.opts.MinProfitUSD)
	if !res.Profitable {
		return nil
	}

	srcTok, err := s.reg.Token(cand.SourceChain, cand.Symbol)
	if err != nil {
		return nil
	}
	dstTok, err := s.reg.Token(cand.DestChain, cand.Symbol)
	if err != nil {
		return nil
	}
	srcUSDC, err := s.reg.Token(cand.SourceChain, "USDC")
	if err != nil {
		return nil
	}
	dstUSDC, err := s.reg.Token(cand.DestChain, "USDC")
	if err != nil {
		return nil
	}
	srcDex, err := s.reg.Dex(cand.SourceChain, "uniswap-v3")
	if err != nil {
		return nil
	}
	dstDex, err := s.reg.Dex(cand.DestChain, "uniswap-v3")
	if err != nil {
		return nil
	}

	one := decimal.NewFromInt(1)
	loan := profit.USDToRaw(cand.TradeSizeUSD, srcUSDC.Decimals, one)
	if loan.Sign() <= 0 {
		return nil
	}
	net, _ := res.Net.Float64()
	s.enqueue(&exec.Signal{
		ID:          uuid.NewString(),
		ChainID:     cand.SourceChain,
		DestChainID: cand.DestChain,
		Token:       srcUSDC.Address.Hex(),
		Amount:      loan.String(),
		FlashSource: uint8(profit.SourceBalancerV3),
		Protocols:   []uint8{uint8(srcDex.Family), exec.ProtocolBridge, uint8(dstDex.Family)},
		Routers:     []string{srcDex.Router.Hex(), common.Address{}.Hex(), dstDex.Router.Hex()},
		Path:        []string{srcTok.Address.Hex(), dstTok.Address.Hex(), dstUSDC.Address.Hex()},
		Extras: []string{
			hexutil.Encode(pricing.EncodeV3Extra(v3Fee("USDC", cand.Symbol))),
			"0x",
			hexutil.Encode(pricing.EncodeV3Extra(v3Fee(cand.Symbol, "USDC"))),
		},
		ExpectedProfit: net,
	})
	return nil
}

// priceUSD quotes one whole token into USDC on the chain's UniV3 venue.
func (s *Scanner) priceUSD(ctx context.Context, chainID uint64, symbol string) (decimal.Decimal, error) {
	if stableSymbols[symbol] {
		return decimal.NewFromInt(1), nil
	}
	tok, err := s.reg.Token(chainID, symbol)
	if err != nil {
		return decimal.Zero, nil
	}
	usdc, err := s.reg.Token(chainID, "USDC")
	if err != nil {
		return decimal.Zero, nil
	}
	dex, err := s.reg.Dex(chainID, "uniswap-v3")
	if err != nil {
		return decimal.Zero, nil
	}
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tok.Decimals)), nil)
	out, err := s.quoter.QuoteHop(ctx, pricing.Hop{
		ChainID:  chainID,
		Family:   registry.FamilyUniV3,
		Router:   dex.Router,
		Quoter:   dex.Quoter,
		TokenIn:  tok.Address,
		TokenOut: usdc.Address,
		AmountIn: oneToken,
		Extra:    pricing.EncodeV3Extra(v3Fee(symbol, "USDC")),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return profit.RawToUSD(out, usdc.Decimals, decimal.NewFromInt(1)), nil
}

// buildHop assembles the quoting hop for one venue leg, including the
// per-family extra bytes that the executor will see verbatim.
func (s *Scanner) buildHop(dex registry.Dex, in, out registry.Token) (pricing.Hop, bool) {
	hop := pricing.Hop{
		ChainID:  dex.ChainID,
		Family:   dex.Family,
		Router:   dex.Router,
		Quoter:   dex.Quoter,
		TokenIn:  in.Address,
		TokenOut: out.Address,
	}
	switch dex.Family {
	case registry.FamilyUniV2:
		hop.Extra = []byte{}
	case registry.FamilyUniV3:
		hop.Extra = pricing.EncodeV3Extra(v3Fee(in.Symbol, out.Symbol))
	case registry.FamilyCurve:
		i, okI := dex.CoinIndex[in.Symbol]
		j, okJ := dex.CoinIndex[out.Symbol]
		if !okI || !okJ {
			return hop, false // pool does not carry this pair
		}
		hop.Extra = pricing.EncodeCurveExtra(i, j)
	default:
		return hop, false
	}
	return hop, true
}

// v3Fee picks the UniV3 fee tier: 0.05% for stable-stable, 0.3%
// otherwise.
func v3Fee(a, b string) uint32 {
	if stableSymbols[a] && stableSymbols[b] {
		return 500
	}
	return 3000
}

func (s *Scanner) gasCostUSD(chainID uint64, samples map[uint64]chains.GasSample) decimal.Decimal {
	sample, ok := samples[chainID]
	if !ok || sample.GasPrice == nil {
		return decimal.Zero
	}
	native := decimal.RequireFromString(chains.NativeUSDDefault(chainID))
	return profit.GasCostUSD(scanGasEstimate, sample.GasPrice, native)
}

// enqueue applies drop-newest backpressure: when the queue is full the
// incoming signal is counted and discarded, never blocking a worker.
func (s *Scanner) enqueue(sig *exec.Signal) {
	select {
	case s.queue <- sig:
		s.signals.Add(1)
	default:
		s.dropped.Add(1)
		s.log.Warn("signal queue full, dropping", zap.String("id", sig.ID))
	}
}

// Counters reports the loop's lifetime counters.
func (s *Scanner) Counters() (evaluated, unpriceable, signals, dropped, workerErrs int64) {
	return s.evaluated.Load(), s.unpriceable.Load(), s.signals.Load(), s.dropped.Load(), s.workerErrs.Load()
}
