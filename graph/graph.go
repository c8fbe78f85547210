// Package graph builds the cross-chain token graph and enumerates the
// candidate opportunities each scan iteration evaluates. The graph is
// deterministic from the registries and read-only after Build.
package graph

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dexarb/arbiter/registry"
)

// Node is one token instance: a (chain, symbol) pair. Nodes live in a
// contiguous slice; edges hold indices into it.
type Node struct {
	ChainID uint64
	Symbol  string
}

// BridgeEdge connects the same symbol on two different chains. Present
// only for symbols in the bridgeable set.
type BridgeEdge struct {
	U, V   int // node indices
	Symbol string
}

// Graph is the assembled token graph.
type Graph struct {
	Nodes  []Node
	Bridge []BridgeEdge

	reg   *registry.Registry
	index map[Node]int
}

// Build assembles the graph: one node per registered (chain, token), one
// bridge edge per pair of chains carrying a bridgeable symbol.
func Build(reg *registry.Registry) *Graph {
	g := &Graph{reg: reg, index: make(map[Node]int)}

	for _, c := range reg.Chains() {
		for _, t := range reg.TokensOn(c.ID) {
			n := Node{ChainID: c.ID, Symbol: t.Symbol}
			g.index[n] = len(g.Nodes)
			g.Nodes = append(g.Nodes, n)
		}
	}

	for _, sym := range reg.BridgeableSymbols() {
		var carriers []int
		for i, n := range g.Nodes {
			if n.Symbol == sym {
				carriers = append(carriers, i)
			}
		}
		sort.Ints(carriers)
		for i := 0; i < len(carriers); i++ {
			for j := i + 1; j < len(carriers); j++ {
				g.Bridge = append(g.Bridge, BridgeEdge{U: carriers[i], V: carriers[j], Symbol: sym})
			}
		}
	}
	return g
}

// NodeIndex returns the index of a (chain, symbol) node.
func (g *Graph) NodeIndex(chain uint64, symbol string) (int, error) {
	i, ok := g.index[Node{ChainID: chain, Symbol: symbol}]
	if !ok {
		return 0, fmt.Errorf("graph: no node (%d,%s)", chain, symbol)
	}
	return i, nil
}

// Candidate is one opportunity to evaluate. For intra-chain candidates
// DestChain == SourceChain and DexA/DexB name the buy/sell venues; for
// cross-chain candidates the venues are empty and a bridge quote is
// consulted instead.
type Candidate struct {
	SourceChain  uint64
	DestChain    uint64
	Symbol       string
	DexA         string // empty for cross-chain
	DexB         string // empty for cross-chain
	TradeSizeUSD decimal.Decimal
}

// CrossChain reports whether the candidate spans two chains.
func (c Candidate) CrossChain() bool { return c.SourceChain != c.DestChain }

func (c Candidate) String() string {
	if c.CrossChain() {
		return fmt.Sprintf("%s %d->%d $%s", c.Symbol, c.SourceChain, c.DestChain, c.TradeSizeUSD)
	}
	return fmt.Sprintf("%s@%d %s->%s $%s", c.Symbol, c.SourceChain, c.DexA, c.DexB, c.TradeSizeUSD)
}

// Tiering schedules how often a symbol is enumerated. Tier 1 symbols are
// scanned every iteration, tier 2 every Stride-th. The default schedule
// puts everything in tier 1.
type Tiering struct {
	Tier2  map[string]bool
	Stride uint64
}

// Enumerate produces the deterministic candidate list for one iteration.
// sizes is the USD trade-size sweep; iter drives the tier schedule and is
// ignored when tiering is nil or empty.
func (g *Graph) Enumerate(sizes []decimal.Decimal, tiering *Tiering, iter uint64) []Candidate {
	var out []Candidate

	skip := func(sym string) bool {
		if tiering == nil || tiering.Stride <= 1 || !tiering.Tier2[sym] {
			return false
		}
		return iter%tiering.Stride != 0
	}

	// Intra-chain: chain x token x venue pair x size.
	for _, c := range g.reg.Chains() {
		pairs := g.reg.DexPairs(c.ID)
		for _, t := range g.reg.TokensOn(c.ID) {
			if skip(t.Symbol) {
				continue
			}
			for _, pair := range pairs {
				for _, size := range sizes {
					out = append(out, Candidate{
						SourceChain:  c.ID,
						DestChain:    c.ID,
						Symbol:       t.Symbol,
						DexA:         pair[0].ID,
						DexB:         pair[1].ID,
						TradeSizeUSD: size,
					})
				}
			}
		}
	}

	// Cross-chain: both directions of every bridge edge, at the largest
	// configured size (bridging fixed costs dominate below that).
	if len(sizes) > 0 {
		size := sizes[len(sizes)-1]
		for _, e := range g.Bridge {
			if skip(e.Symbol) {
				continue
			}
			u, v := g.Nodes[e.U], g.Nodes[e.V]
			out = append(out,
				Candidate{SourceChain: u.ChainID, DestChain: v.ChainID, Symbol: e.Symbol, TradeSizeUSD: size},
				Candidate{SourceChain: v.ChainID, DestChain: u.ChainID, Symbol: e.Symbol, TradeSizeUSD: size},
			)
		}
	}
	return out
}
