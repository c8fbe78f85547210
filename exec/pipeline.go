package exec

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/config"
	"github.com/dexarb/arbiter/pricing"
	"github.com/dexarb/arbiter/registry"
)

// Emitter receives pipeline events for push notification. The control
// plane's WebSocket hub implements it; a nil emitter is legal.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Result is the synchronous answer to an execute or simulate request.
type Result struct {
	Success        bool               `json:"success"`
	Mode           string             `json:"mode"`
	TxHash         string             `json:"txHash,omitempty"`
	Simulation     *pricing.SimResult `json:"simulation,omitempty"`
	ExpectedProfit float64            `json:"expected_profit"`
	Error          string             `json:"error,omitempty"`
	Stage          string             `json:"stage,omitempty"`
	Code           string             `json:"code,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Pipeline executes trade signals through the seven stages. One Pipeline
// serves all requests; per-signal state stays on the stack. Multiple
// signals may be in flight at once, bounded by the concurrency semaphore;
// the nonce manager serializes signed transactions per chain.
type Pipeline struct {
	mode      config.Mode
	reg       *registry.Registry
	providers *chains.Providers
	sim       *pricing.Simulator

	key    *ecdsa.PrivateKey
	sender common.Address

	executorAddrs      map[uint64]common.Address
	maxBaseFeeGwei     int64
	gasLimitMultiplier float64
	mempoolFallback    bool

	nonces  *NonceManager
	relay   Submitter
	mempool Submitter

	stats   *Stats
	breaker *CircuitBreaker
	emit    Emitter
	log     *zap.Logger

	sem chan struct{}
}

// Options wires a Pipeline.
type Options struct {
	Mode               config.Mode
	Registry           *registry.Registry
	Providers          *chains.Providers
	Simulator          *pricing.Simulator
	Key                *ecdsa.PrivateKey // nil in PAPER mode
	ExecutorAddrs      map[uint64]common.Address
	MaxBaseFeeGwei     int64
	GasLimitMultiplier float64
	MaxConcurrentTxs   int
	MempoolFallback    bool
	Relay              Submitter // nil disables private submission
	Stats              *Stats
	Breaker            *CircuitBreaker
	Emitter            Emitter
	Log                *zap.Logger
}

// New builds a Pipeline.
func New(opts Options) *Pipeline {
	if opts.MaxConcurrentTxs <= 0 {
		opts.MaxConcurrentTxs = 3
	}
	if opts.Stats == nil {
		opts.Stats = &Stats{}
	}
	if opts.Breaker == nil {
		opts.Breaker = NewCircuitBreaker(10, time.Minute)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	p := &Pipeline{
		mode:               opts.Mode,
		reg:                opts.Registry,
		providers:          opts.Providers,
		sim:                opts.Simulator,
		key:                opts.Key,
		executorAddrs:      opts.ExecutorAddrs,
		maxBaseFeeGwei:     opts.MaxBaseFeeGwei,
		gasLimitMultiplier: opts.GasLimitMultiplier,
		mempoolFallback:    opts.MempoolFallback,
		relay:              opts.Relay,
		mempool:            &MempoolSubmitter{Providers: opts.Providers},
		stats:              opts.Stats,
		breaker:            opts.Breaker,
		emit:               opts.Emitter,
		log:                opts.Log.Named("pipeline"),
		sem:                make(chan struct{}, opts.MaxConcurrentTxs),
	}
	if p.gasLimitMultiplier < 1.0 {
		p.gasLimitMultiplier = 1.2
	}
	if p.maxBaseFeeGwei <= 0 {
		p.maxBaseFeeGwei = 500
	}
	if opts.Key != nil {
		p.sender = crypto.PubkeyToAddress(opts.Key.PublicKey)
		p.nonces = NewNonceManager(opts.Providers, p.sender)
	}
	return p
}

// Stats exposes the counter set.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Breaker exposes the circuit breaker.
func (p *Pipeline) Breaker() *CircuitBreaker { return p.breaker }

// Mode reports the execution mode.
func (p *Pipeline) Mode() config.Mode { return p.mode }

// Execute runs a signal through all seven stages (PAPER stops after
// simulation). It always returns a Result; rejections carry the stage and
// machine-readable code.
func (p *Pipeline) Execute(ctx context.Context, sig *Signal) Result {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return p.fail(sig, &PipelineError{Stage: StageSignal, Code: CodeCancelled, Reason: "cancelled", Err: ctx.Err()})
	}

	p.stats.RecordSignal()

	route, perr := validate(sig)
	if perr != nil {
		return p.fail(sig, perr)
	}
	if perr := p.chainGate(route); perr != nil {
		return p.fail(sig, perr)
	}
	if p.mode == config.ModeLive && p.breaker.Open() {
		return p.fail(sig, reject(StageSign, CodeCircuitBreakerOpen, "circuit breaker open, cooling down"))
	}

	built, perr := p.build(ctx, route)
	if perr != nil {
		return p.fail(sig, perr)
	}

	simRes, err := p.sim.Simulate(ctx, built.CallMeta())
	if err != nil {
		if ctx.Err() != nil {
			return p.fail(sig, &PipelineError{Stage: StageSimulate, Code: CodeCancelled, Reason: "cancelled", Err: err})
		}
		return p.fail(sig, &PipelineError{Stage: StageSimulate, Code: CodeRPC, Reason: err.Error(), Err: err})
	}
	if !simRes.Success {
		return p.fail(sig, reject(StageSimulate, CodeSimulationReverted, "%s", simRes.Revert))
	}

	if p.mode == config.ModePaper {
		p.stats.RecordPaper(route.ExpectedProfit)
		res := Result{
			Success:        true,
			Mode:           string(config.ModePaper),
			Simulation:     &simRes,
			ExpectedProfit: sig.ExpectedProfit,
			Timestamp:      time.Now().UTC(),
		}
		p.emitEvent("paper_execution", res)
		return res
	}

	// Stage 5: the three signing sub-gates.
	if perr := p.signingGate(route); perr != nil {
		return p.fail(sig, perr)
	}

	raw, perr := p.sign(ctx, route, built)
	if perr != nil {
		return p.fail(sig, perr)
	}

	bundle, perr := p.bundle(ctx, route.ChainID, raw)
	if perr != nil {
		return p.fail(sig, perr)
	}

	hash, perr := p.submit(ctx, route.ChainID, bundle)
	if perr != nil {
		return p.fail(sig, perr)
	}

	p.breaker.RecordSuccess()
	p.stats.RecordLive(route.ExpectedProfit)
	res := Result{
		Success:        true,
		Mode:           string(config.ModeLive),
		TxHash:         hash,
		Simulation:     &simRes,
		ExpectedProfit: sig.ExpectedProfit,
		Timestamp:      time.Now().UTC(),
	}
	p.emitEvent("live_execution", res)
	return res
}

// Simulate runs Stages 1-4 only: no signing, no broadcast, no breaker or
// stats mutation beyond the signal counter.
func (p *Pipeline) Simulate(ctx context.Context, sig *Signal) Result {
	route, perr := validate(sig)
	if perr != nil {
		return p.rejectionResult(sig, perr)
	}
	if perr := p.chainGate(route); perr != nil {
		return p.rejectionResult(sig, perr)
	}
	built, perr := p.build(ctx, route)
	if perr != nil {
		return p.rejectionResult(sig, perr)
	}
	simRes, err := p.sim.Simulate(ctx, built.CallMeta())
	if err != nil {
		return p.rejectionResult(sig, &PipelineError{Stage: StageSimulate, Code: CodeRPC, Reason: err.Error(), Err: err})
	}
	return Result{
		Success:        simRes.Success,
		Mode:           string(p.mode),
		Simulation:     &simRes,
		ExpectedProfit: sig.ExpectedProfit,
		Timestamp:      time.Now().UTC(),
	}
}

// chainGate is Stage 2: only the single execution-enabled chain passes.
func (p *Pipeline) chainGate(route *Route) *PipelineError {
	c, err := p.reg.Chain(route.ChainID)
	if err != nil {
		return reject(StageChainGate, CodeExecutionBlocked, "ExecutionBlocked: chain %d not configured", route.ChainID)
	}
	switch c.Status {
	case registry.StatusEnabled:
		return nil
	case registry.StatusConfigured:
		return reject(StageChainGate, CodeExecutionBlocked, "ExecutionBlocked: chain %d disabled", route.ChainID)
	default:
		return reject(StageChainGate, CodeExecutionBlocked, "ExecutionBlocked: chain %d not configured", route.ChainID)
	}
}

// signingGate is Stage 5's three sub-gates; all must pass.
func (p *Pipeline) signingGate(route *Route) *PipelineError {
	// Sub-gate A: LIVE mode only.
	if p.mode != config.ModeLive {
		return reject(StageSign, CodeSigningBlocked, "SigningBlocked(mode): PAPER mode signs nothing")
	}
	// Sub-gate B: the transaction chain must be the enabled chain.
	enabled, err := p.reg.EnabledChain()
	if err != nil || route.ChainID != enabled.ID {
		return reject(StageSign, CodeSigningBlocked, "SigningBlocked(chain): chain %d is not the enabled chain", route.ChainID)
	}
	// Sub-gate C: a real signing key must be configured.
	if p.key == nil {
		return reject(StageSign, CodeSigningBlocked, "SigningBlocked(key): no signing key configured")
	}
	return nil
}

// sign acquires a nonce under the chain lock and signs. The nonce is
// released if signing fails before submission.
func (p *Pipeline) sign(ctx context.Context, route *Route, built *BuiltTx) ([]byte, *PipelineError) {
	lease, err := p.nonces.Acquire(ctx, route.ChainID)
	if err != nil {
		return nil, &PipelineError{Stage: StageSign, Code: CodeRPC, Reason: err.Error(), Err: err}
	}
	tx := built.ToTransaction(lease.Nonce)
	signer := types.LatestSignerForChainID(tx.ChainId())
	signed, err := types.SignTx(tx, signer, p.key)
	if err != nil {
		lease.Release()
		return nil, &PipelineError{Stage: StageSign, Code: CodeSigningBlocked, Reason: "signing failed: " + err.Error(), Err: err}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		lease.Release()
		return nil, &PipelineError{Stage: StageSign, Code: CodeSigningBlocked, Reason: "tx encoding failed: " + err.Error(), Err: err}
	}
	lease.Commit()
	return raw, nil
}

// bundle is Stage 6: Merkle bundle over the signed transactions,
// targeting the next block.
func (p *Pipeline) bundle(ctx context.Context, chainID uint64, raw []byte) (*Bundle, *PipelineError) {
	client, err := p.providers.Client(chainID)
	if err != nil {
		return nil, &PipelineError{Stage: StageBundle, Code: CodeRPC, Reason: err.Error(), Err: err}
	}
	cctx, cancel := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel()
	head, err := client.BlockNumber(cctx)
	if err != nil {
		return nil, &PipelineError{Stage: StageBundle, Code: CodeRPC, Reason: err.Error(), Err: err}
	}
	b, err := NewBundle([][]byte{raw}, head+1)
	if err != nil {
		return nil, &PipelineError{Stage: StageBundle, Code: CodeRPC, Reason: err.Error(), Err: err}
	}
	return b, nil
}

// submit is Stage 7: private relay first, public mempool as the
// configured degraded path. Nonce-related failures resync and retry
// once.
func (p *Pipeline) submit(ctx context.Context, chainID uint64, bundle *Bundle) (string, *PipelineError) {
	if p.relay != nil {
		hash, err := p.relay.Submit(ctx, chainID, bundle)
		if err == nil {
			return hash, nil
		}
		p.log.Warn("relay submission failed", zap.Uint64("chain", chainID), zap.Error(err))
		if !p.mempoolFallback {
			return "", &PipelineError{Stage: StageSubmit, Code: CodeRelayFailed, Reason: "relay submission failed: " + err.Error(), Err: err}
		}
	}

	hash, err := p.mempool.Submit(ctx, chainID, bundle)
	if err == nil {
		return hash, nil
	}
	if IsNonceError(err) && p.nonces != nil {
		if rerr := p.nonces.Resync(ctx, chainID); rerr == nil {
			if hash, err2 := p.mempool.Submit(ctx, chainID, bundle); err2 == nil {
				return hash, nil
			}
		}
		return "", &PipelineError{Stage: StageSubmit, Code: CodeNonceCollision, Reason: "nonce collision: " + err.Error(), Err: err}
	}
	return "", &PipelineError{Stage: StageSubmit, Code: CodeRelayFailed, Reason: err.Error(), Err: err}
}

func (p *Pipeline) fail(sig *Signal, perr *PipelineError) Result {
	p.stats.RecordFailed()
	if p.mode == config.ModeLive && perr.countsAgainstBreaker() {
		p.breaker.RecordFailure()
	}
	p.log.Debug("signal rejected",
		zap.String("stage", perr.Stage.String()),
		zap.String("code", perr.Code.String()),
		zap.String("reason", perr.Reason))
	res := p.rejectionResult(sig, perr)
	p.emitEvent("error", res)
	return res
}

func (p *Pipeline) rejectionResult(sig *Signal, perr *PipelineError) Result {
	return Result{
		Success:        false,
		Mode:           string(p.mode),
		Error:          perr.Error(),
		Stage:          perr.Stage.String(),
		Code:           perr.Code.String(),
		ExpectedProfit: sig.ExpectedProfit,
		Timestamp:      time.Now().UTC(),
	}
}

func (p *Pipeline) emitEvent(event string, payload interface{}) {
	if p.emit != nil {
		p.emit.Emit(event, payload)
	}
}
