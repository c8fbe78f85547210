// Package registry holds the static chain, token and DEX tables the engine
// operates on. The tables are assembled once at startup and are read-only
// afterwards; every lookup fails closed with ErrNotRegistered so that a
// missing entry can never silently turn into a zero address on the wire.
package registry

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// GasMode selects how a chain prices transactions.
type GasMode uint8

const (
	GasModeEIP1559 GasMode = iota
	GasModeLegacy
)

// ExecStatus is the execution permission level of a chain. Exactly one chain
// may be StatusEnabled in a running process; the pipeline's chain gate
// enforces this.
type ExecStatus uint8

const (
	StatusUnknown    ExecStatus = iota
	StatusConfigured            // readable, signing refused
	StatusEnabled               // readable and signable
)

func (s ExecStatus) String() string {
	switch s {
	case StatusConfigured:
		return "configured"
	case StatusEnabled:
		return "enabled"
	}
	return "unknown"
}

// Family identifies the swap protocol family of a DEX venue.
type Family uint8

const (
	FamilyUniV2 Family = 1
	FamilyUniV3 Family = 2
	FamilyCurve Family = 3
)

func (f Family) String() string {
	switch f {
	case FamilyUniV2:
		return "univ2"
	case FamilyUniV3:
		return "univ3"
	case FamilyCurve:
		return "curve"
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// Chain describes one supported EVM chain.
type Chain struct {
	ID            uint64
	Name          string
	RPCURL        string
	BackupRPCURL  string
	WSURL         string
	WrappedNative string // symbol of the wrapped native token, e.g. WMATIC
	GasMode       GasMode
	BlockTimeHint float64 // seconds, advisory only
	Status        ExecStatus
}

// Token describes one token instance on one chain.
type Token struct {
	ChainID    uint64
	Symbol     string
	Address    common.Address
	Decimals   uint8
	Bridgeable bool
}

// Dex describes one swap venue on one chain.
type Dex struct {
	ChainID uint64
	ID      string
	Router  common.Address
	Family  Family
	// Quoter is the chain-specific QuoterV2 address; only meaningful for
	// FamilyUniV3. Every chain entry carries its own, there is no shared
	// constant.
	Quoter common.Address
	// CoinIndex maps a token symbol to its coin index inside the Curve
	// pool behind Router; only meaningful for FamilyCurve.
	CoinIndex map[string]int64
}

// NotRegisteredError reports a lookup against a key that is absent from the
// registry. Callers discard the candidate (or abort, at startup).
type NotRegisteredError struct {
	Kind string // "chain" | "token" | "dex"
	Key  string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("registry: %s %q not registered", e.Kind, e.Key)
}

// bridgeable is the closed set of symbols that may cross chains.
var bridgeable = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
	"WETH": true,
	"WBTC": true,
}

// Registry is the assembled lookup structure. Safe for concurrent readers;
// there are no writers after New returns.
type Registry struct {
	chains map[uint64]Chain
	tokens map[tokenKey]Token
	dexes  map[dexKey]Dex

	chainOrder []uint64 // deterministic iteration order
}

type tokenKey struct {
	chain  uint64
	symbol string
}

type dexKey struct {
	chain uint64
	id    string
}

// New assembles a registry from the given tables. Duplicate keys and
// dangling chain references are programming errors and are rejected.
func New(chains []Chain, tokens []Token, dexes []Dex) (*Registry, error) {
	r := &Registry{
		chains: make(map[uint64]Chain, len(chains)),
		tokens: make(map[tokenKey]Token, len(tokens)),
		dexes:  make(map[dexKey]Dex, len(dexes)),
	}
	for _, c := range chains {
		if _, dup := r.chains[c.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate chain %d", c.ID)
		}
		r.chains[c.ID] = c
		r.chainOrder = append(r.chainOrder, c.ID)
	}
	sort.Slice(r.chainOrder, func(i, j int) bool { return r.chainOrder[i] < r.chainOrder[j] })

	for _, t := range tokens {
		if _, ok := r.chains[t.ChainID]; !ok {
			return nil, fmt.Errorf("registry: token %s references unknown chain %d", t.Symbol, t.ChainID)
		}
		k := tokenKey{t.ChainID, t.Symbol}
		if _, dup := r.tokens[k]; dup {
			return nil, fmt.Errorf("registry: duplicate token (%d,%s)", t.ChainID, t.Symbol)
		}
		t.Bridgeable = bridgeable[t.Symbol]
		r.tokens[k] = t
	}
	for _, d := range dexes {
		if _, ok := r.chains[d.ChainID]; !ok {
			return nil, fmt.Errorf("registry: dex %s references unknown chain %d", d.ID, d.ChainID)
		}
		k := dexKey{d.ChainID, d.ID}
		if _, dup := r.dexes[k]; dup {
			return nil, fmt.Errorf("registry: duplicate dex (%d,%s)", d.ChainID, d.ID)
		}
		r.dexes[k] = d
	}
	return r, nil
}

// Chain returns the descriptor for the given chain id.
func (r *Registry) Chain(id uint64) (Chain, error) {
	c, ok := r.chains[id]
	if !ok {
		return Chain{}, &NotRegisteredError{Kind: "chain", Key: fmt.Sprint(id)}
	}
	return c, nil
}

// Chains returns all chain descriptors in ascending id order.
func (r *Registry) Chains() []Chain {
	out := make([]Chain, 0, len(r.chainOrder))
	for _, id := range r.chainOrder {
		out = append(out, r.chains[id])
	}
	return out
}

// EnabledChain returns the single execution-enabled chain.
func (r *Registry) EnabledChain() (Chain, error) {
	for _, id := range r.chainOrder {
		if r.chains[id].Status == StatusEnabled {
			return r.chains[id], nil
		}
	}
	return Chain{}, &NotRegisteredError{Kind: "chain", Key: "enabled"}
}

// Token looks up a token by (chain, symbol).
func (r *Registry) Token(chain uint64, symbol string) (Token, error) {
	t, ok := r.tokens[tokenKey{chain, symbol}]
	if !ok {
		return Token{}, &NotRegisteredError{Kind: "token", Key: fmt.Sprintf("(%d,%s)", chain, symbol)}
	}
	return t, nil
}

// TokenByAddress resolves a token from its on-chain address. Used by the
// pipeline to recover decimals for amounts arriving over the wire.
func (r *Registry) TokenByAddress(chain uint64, addr common.Address) (Token, error) {
	for k, t := range r.tokens {
		if k.chain == chain && t.Address == addr {
			return t, nil
		}
	}
	return Token{}, &NotRegisteredError{Kind: "token", Key: fmt.Sprintf("(%d,%s)", chain, addr.Hex())}
}

// TokensOn returns the tokens registered on a chain, sorted by symbol.
func (r *Registry) TokensOn(chain uint64) []Token {
	var out []Token
	for k, t := range r.tokens {
		if k.chain == chain {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Dex looks up a DEX by (chain, dex id).
func (r *Registry) Dex(chain uint64, id string) (Dex, error) {
	d, ok := r.dexes[dexKey{chain, id}]
	if !ok {
		return Dex{}, &NotRegisteredError{Kind: "dex", Key: fmt.Sprintf("(%d,%s)", chain, id)}
	}
	return d, nil
}

// DexPairs returns every ordered pair (A, B), A != B, of venues on a chain.
// The order is deterministic: venue ids sorted lexicographically.
func (r *Registry) DexPairs(chain uint64) [][2]Dex {
	var ids []string
	for k := range r.dexes {
		if k.chain == chain {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)

	var pairs [][2]Dex
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			pairs = append(pairs, [2]Dex{r.dexes[dexKey{chain, a}], r.dexes[dexKey{chain, b}]})
		}
	}
	return pairs
}

// BridgeableSymbols returns the closed set of symbols allowed to cross
// chains, sorted.
func (r *Registry) BridgeableSymbols() []string {
	out := make([]string, 0, len(bridgeable))
	for s := range bridgeable {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
