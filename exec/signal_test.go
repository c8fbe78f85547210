package exec

import (
	"strings"
	"testing"
)

func validSignal() *Signal {
	return &Signal{
		ID:          "sig-1",
		ChainID:     137,
		Token:       "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		Amount:      "25000000000",
		FlashSource: 1,
		Protocols:   []uint8{1, 1},
		Routers: []string{
			"0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
			"0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
		},
		Path: []string{
			"0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
			"0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		},
		Extras:         []string{"0x", "0x"},
		ExpectedProfit: 12.5,
	}
}

func TestValidateAcceptsWellFormedSignal(t *testing.T) {
	route, perr := validate(validSignal())
	if perr != nil {
		t.Fatalf("validate: %v", perr)
	}
	if route.ChainID != 137 || len(route.Hops) != 2 {
		t.Fatalf("route = %+v", route)
	}
	if route.Amount.String() != "25000000000" {
		t.Fatalf("amount = %s", route.Amount)
	}
	// No gas params on the wire: static defaults fill in.
	if route.Gas.PriorityFeeGwei <= 0 || route.Gas.DeadlineSeconds <= 0 {
		t.Fatalf("default gas params missing: %+v", route.Gas)
	}
	if route.CrossChain() {
		t.Fatal("intra-chain route flagged cross-chain")
	}
}

func TestValidateArrayLengthMismatch(t *testing.T) {
	sig := validSignal()
	sig.Extras = []string{"0x"}
	_, perr := validate(sig)
	if perr == nil || perr.Code != CodeInvalidSignal {
		t.Fatalf("perr = %v, want invalid_signal", perr)
	}
	if perr.Stage != StageSignal {
		t.Fatalf("stage = %s, want signal", perr.Stage)
	}
	if !strings.Contains(perr.Reason, "length mismatch") {
		t.Fatalf("reason = %q", perr.Reason)
	}
}

func TestValidateHopCountBounds(t *testing.T) {
	sig := validSignal()
	sig.Protocols = nil
	sig.Routers = nil
	sig.Path = nil
	sig.Extras = nil
	if _, perr := validate(sig); perr == nil || perr.Code != CodeInvalidSignal {
		t.Fatalf("empty route: perr = %v", perr)
	}

	sig = validSignal()
	for len(sig.Protocols) <= MaxHops {
		sig.Protocols = append(sig.Protocols, 1)
		sig.Routers = append(sig.Routers, sig.Routers[0])
		sig.Path = append(sig.Path, sig.Path[0])
		sig.Extras = append(sig.Extras, "0x")
	}
	if _, perr := validate(sig); perr == nil || perr.Code != CodeInvalidSignal {
		t.Fatalf("oversized route: perr = %v", perr)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := map[string]func(*Signal){
		"zero chain":      func(s *Signal) { s.ChainID = 0 },
		"bad token":       func(s *Signal) { s.Token = "polygon-usdc" },
		"empty amount":    func(s *Signal) { s.Amount = "" },
		"negative amount": func(s *Signal) { s.Amount = "-5" },
		"float amount":    func(s *Signal) { s.Amount = "12.5" },
		"bad source":      func(s *Signal) { s.FlashSource = 9 },
		"bad router":      func(s *Signal) { s.Routers[0] = "0x123" },
		"bad path":        func(s *Signal) { s.Path[1] = "not-an-address" },
		"bad extra":       func(s *Signal) { s.Extras[0] = "0xzz" },
	}
	for name, mutate := range cases {
		sig := validSignal()
		mutate(sig)
		if _, perr := validate(sig); perr == nil || perr.Code != CodeInvalidSignal {
			t.Fatalf("%s: perr = %v, want invalid_signal", name, perr)
		}
	}
}

func TestValidateExtrasNormalization(t *testing.T) {
	sig := validSignal()
	sig.Extras = []string{"", "0X0BB8"} // empty and uppercase-prefixed
	route, perr := validate(sig)
	if perr != nil {
		t.Fatalf("validate: %v", perr)
	}
	if len(route.Hops[0].Extra) != 0 {
		t.Fatalf("empty extra decoded to %x", route.Hops[0].Extra)
	}
	if len(route.Hops[1].Extra) != 2 {
		t.Fatalf("extra = %x", route.Hops[1].Extra)
	}
}

func TestCrossChainDetection(t *testing.T) {
	sig := validSignal()
	sig.DestChainID = 1
	route, perr := validate(sig)
	if perr != nil {
		t.Fatalf("validate: %v", perr)
	}
	if !route.CrossChain() {
		t.Fatal("dest chain differs, must be cross-chain")
	}

	sig = validSignal()
	sig.Protocols[1] = ProtocolBridge
	route, perr = validate(sig)
	if perr != nil {
		t.Fatalf("validate: %v", perr)
	}
	if !route.CrossChain() {
		t.Fatal("bridge hop present, must be cross-chain")
	}
}
