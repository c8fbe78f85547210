package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexarb/arbiter/chains"
)

// NonceManager owns the single logical sender's nonce sequence per
// chain. A signer must Acquire the next nonce under the chain's lock and
// either Commit it (transaction submitted) or Release it (signing failed
// before submission, nonce reused). Collisions trigger a resync from the
// node.
type NonceManager struct {
	providers *chains.Providers
	sender    common.Address

	mu     sync.Mutex
	chains map[uint64]*chainNonce
}

type chainNonce struct {
	mu     sync.Mutex
	next   uint64
	synced bool
}

// NewNonceManager builds a manager for the given sender address.
func NewNonceManager(providers *chains.Providers, sender common.Address) *NonceManager {
	return &NonceManager{
		providers: providers,
		sender:    sender,
		chains:    make(map[uint64]*chainNonce),
	}
}

func (m *NonceManager) forChain(chainID uint64) *chainNonce {
	m.mu.Lock()
	defer m.mu.Unlock()
	cn, ok := m.chains[chainID]
	if !ok {
		cn = &chainNonce{}
		m.chains[chainID] = cn
	}
	return cn
}

// Lease is a held nonce. Exactly one of Commit or Release must be called.
type Lease struct {
	Nonce uint64
	cn    *chainNonce
	done  bool
}

// Commit marks the nonce as consumed by a submitted transaction.
func (l *Lease) Commit() {
	if l.done {
		return
	}
	l.done = true
	l.cn.mu.Unlock()
}

// Release returns the nonce for reuse; only legal before submission.
func (l *Lease) Release() {
	if l.done {
		return
	}
	l.done = true
	l.cn.next--
	l.cn.mu.Unlock()
}

// Acquire locks the chain's nonce sequence and hands out the next value,
// seeding from the node's pending nonce on first use. The chain lock is
// held until Commit or Release, which serializes signed transactions per
// chain and guarantees strictly increasing nonces.
func (m *NonceManager) Acquire(ctx context.Context, chainID uint64) (*Lease, error) {
	cn := m.forChain(chainID)
	cn.mu.Lock()
	if !cn.synced {
		if err := m.syncLocked(ctx, chainID, cn); err != nil {
			cn.mu.Unlock()
			return nil, err
		}
	}
	lease := &Lease{Nonce: cn.next, cn: cn}
	cn.next++
	return lease, nil
}

// Resync refreshes the chain's nonce from the node. Called after a
// collision or a reorg-induced gap.
func (m *NonceManager) Resync(ctx context.Context, chainID uint64) error {
	cn := m.forChain(chainID)
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return m.syncLocked(ctx, chainID, cn)
}

func (m *NonceManager) syncLocked(ctx context.Context, chainID uint64, cn *chainNonce) error {
	client, err := m.providers.Client(chainID)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, chains.ReadTimeout)
	defer cancel()
	pending, err := client.PendingNonceAt(cctx, m.sender)
	if err != nil {
		return fmt.Errorf("exec: nonce sync on chain %d: %w", chainID, err)
	}
	cn.next = pending
	cn.synced = true
	return nil
}

// IsNonceError reports whether a submission error is nonce-related and
// warrants a resync-and-retry.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction") ||
		strings.Contains(msg, "already known")
}
