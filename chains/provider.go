// Package chains manages the per-chain RPC connections and gas sampling.
// A Providers value is built once at startup after a synchronous health
// probe of every configured chain; it is safe for concurrent use.
package chains

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dexarb/arbiter/registry"
)

// Read and submit timeouts applied to every RPC call site. Timeouts live
// here, not in the runtime.
const (
	ReadTimeout   = 5 * time.Second
	SubmitTimeout = 30 * time.Second
)

// NodeClient is the slice of the ethclient surface the engine uses. It
// exists so tests can substitute a scripted backend.
type NodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ NodeClient = (*ethclient.Client)(nil)

// Provider couples a chain descriptor with its live connection.
type Provider struct {
	Chain  registry.Chain
	Client NodeClient

	healthy bool
}

// Healthy reports whether the startup probe succeeded. Observation-only
// chains that failed the probe stay registered but unhealthy.
func (p *Provider) Healthy() bool { return p.healthy }

// Providers is the chain provider registry.
type Providers struct {
	mu    sync.RWMutex
	byID  map[uint64]*Provider
	log   *zap.Logger
	start time.Time
}

// Dialer opens a NodeClient for a URL. Production uses DialEth; tests
// inject stubs.
type Dialer func(ctx context.Context, url string) (NodeClient, error)

// DialEth is the production dialer.
func DialEth(ctx context.Context, url string) (NodeClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Connect dials every configured chain, probes it, and assembles the
// registry. A probe failure on the execution-enabled chain is fatal; on an
// observation chain the chain is downgraded to unhealthy with a loud log
// line.
func Connect(ctx context.Context, reg *registry.Registry, urls, backups map[string]string, dial Dialer, log *zap.Logger) (*Providers, error) {
	if dial == nil {
		dial = DialEth
	}
	p := &Providers{
		byID:  make(map[uint64]*Provider),
		log:   log.Named("chains"),
		start: time.Now(),
	}
	for _, c := range reg.Chains() {
		url, ok := urls[c.Name]
		if !ok || url == "" {
			if c.Status == registry.StatusEnabled {
				return nil, fmt.Errorf("chains: no RPC URL configured for execution chain %s", c.Name)
			}
			p.log.Warn("chain has no RPC URL, disabled", zap.String("chain", c.Name))
			p.byID[c.ID] = &Provider{Chain: c}
			continue
		}
		c.RPCURL = url
		c.BackupRPCURL = backups[c.Name]

		client, err := p.dialWithFailover(ctx, c, dial)
		if err != nil {
			if c.Status == registry.StatusEnabled {
				return nil, fmt.Errorf("chains: execution chain %s failed health probe: %w", c.Name, err)
			}
			p.log.Warn("observation chain failed health probe, disabled",
				zap.String("chain", c.Name), zap.Error(err))
			p.byID[c.ID] = &Provider{Chain: c}
			continue
		}
		p.byID[c.ID] = &Provider{Chain: c, Client: client, healthy: true}
		p.log.Info("chain connected", zap.String("chain", c.Name), zap.Uint64("id", c.ID))
	}
	return p, nil
}

// dialWithFailover tries the primary URL and, on probe failure, the backup.
// The probe is an eth_chainId round-trip verified against the descriptor.
func (p *Providers) dialWithFailover(ctx context.Context, c registry.Chain, dial Dialer) (NodeClient, error) {
	try := func(url string) (NodeClient, error) {
		cctx, cancel := context.WithTimeout(ctx, ReadTimeout)
		defer cancel()
		client, err := dial(cctx, url)
		if err != nil {
			return nil, err
		}
		id, err := client.ChainID(cctx)
		if err != nil {
			return nil, fmt.Errorf("health probe: %w", err)
		}
		if id.Uint64() != c.ID {
			return nil, fmt.Errorf("health probe: endpoint reports chain %s, want %d", id, c.ID)
		}
		return client, nil
	}

	client, err := try(c.RPCURL)
	if err == nil {
		return client, nil
	}
	if c.BackupRPCURL != "" {
		p.log.Warn("primary RPC failed, trying backup", zap.String("chain", c.Name), zap.Error(err))
		if client, berr := try(c.BackupRPCURL); berr == nil {
			return client, nil
		}
	}
	return nil, err
}

// Get returns the provider for a chain id, healthy or not.
func (p *Providers) Get(id uint64) (*Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("chains: no provider for chain %d", id)
	}
	return pr, nil
}

// Client returns a connected client for a chain id, or an error if the
// chain is unhealthy.
func (p *Providers) Client(id uint64) (NodeClient, error) {
	pr, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	if !pr.healthy || pr.Client == nil {
		return nil, fmt.Errorf("chains: chain %d is disabled", id)
	}
	return pr.Client, nil
}

// Healthy returns the providers that passed their probe, ascending id.
func (p *Providers) Healthy() []*Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Provider
	for _, c := range sortedIDs(p.byID) {
		if pr := p.byID[c]; pr.healthy {
			out = append(out, pr)
		}
	}
	return out
}

// Count returns the number of configured chains (healthy or not).
func (p *Providers) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// Uptime reports time since Connect.
func (p *Providers) Uptime() time.Duration { return time.Since(p.start) }

func sortedIDs(m map[uint64]*Provider) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// GasSample is one chain's gas reading for a scan iteration.
type GasSample struct {
	ChainID  uint64
	BaseFee  *big.Int // nil on legacy chains
	TipCap   *big.Int // nil on legacy chains
	GasPrice *big.Int // legacy price, or base+tip for convenience
	At       time.Time
}

// SampleGas fans out gas queries across all healthy chains with a bounded
// per-call timeout. Chains that time out or error are simply absent from
// the result; the scan iteration skips them.
func (p *Providers) SampleGas(ctx context.Context) map[uint64]GasSample {
	healthy := p.Healthy()
	var (
		mu  sync.Mutex
		out = make(map[uint64]GasSample, len(healthy))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pr := range healthy {
		pr := pr
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, ReadTimeout)
			defer cancel()
			s, err := sampleOne(cctx, pr)
			if err != nil {
				p.log.Debug("gas sample failed", zap.Uint64("chain", pr.Chain.ID), zap.Error(err))
				return nil // one chain's failure must not cancel the rest
			}
			mu.Lock()
			out[pr.Chain.ID] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func sampleOne(ctx context.Context, pr *Provider) (GasSample, error) {
	s := GasSample{ChainID: pr.Chain.ID, At: time.Now()}
	if pr.Chain.GasMode == registry.GasModeLegacy {
		price, err := pr.Client.SuggestGasPrice(ctx)
		if err != nil {
			return s, err
		}
		s.GasPrice = price
		return s, nil
	}
	head, err := pr.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		return s, err
	}
	if head.BaseFee == nil {
		// The endpoint serves pre-London headers despite the EIP-1559
		// gas mode; fall back to a legacy price for this iteration.
		price, perr := pr.Client.SuggestGasPrice(ctx)
		if perr != nil {
			return s, perr
		}
		s.GasPrice = price
		return s, nil
	}
	tip, err := pr.Client.SuggestGasTipCap(ctx)
	if err != nil {
		return s, err
	}
	s.BaseFee = head.BaseFee
	s.TipCap = tip
	s.GasPrice = new(big.Int).Add(head.BaseFee, tip)
	return s, nil
}
