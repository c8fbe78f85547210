package exec

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexarb/arbiter/pricing"
	"github.com/dexarb/arbiter/profit"
)

func sampleRoute() *Route {
	return &Route{
		ChainID: 137,
		Token:   common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		Amount:  big.NewInt(25_000_000_000),
		Source:  profit.SourceBalancerV3,
		Hops: []RouteHop{
			{
				Protocol: 2,
				Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
				TokenOut: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"),
				Extra:    pricing.EncodeV3Extra(3000),
			},
			{
				Protocol: 3,
				Router:   common.HexToAddress("0x445FE580eF8d70FF569aB36e80c647af338db351"),
				TokenOut: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
				Extra:    pricing.EncodeCurveExtra(1, 2),
			},
		},
	}
}

func TestRouteDataRoundTrip(t *testing.T) {
	route := sampleRoute()
	blob, err := EncodeRouteData(route.Hops)
	if err != nil {
		t.Fatalf("EncodeRouteData: %v", err)
	}
	hops, err := DecodeRouteData(blob)
	if err != nil {
		t.Fatalf("DecodeRouteData: %v", err)
	}
	if len(hops) != len(route.Hops) {
		t.Fatalf("hops = %d, want %d", len(hops), len(route.Hops))
	}
	for i := range hops {
		want := route.Hops[i]
		if hops[i].Protocol != want.Protocol || hops[i].Router != want.Router || hops[i].TokenOut != want.TokenOut {
			t.Fatalf("hop %d mismatch: %+v vs %+v", i, hops[i], want)
		}
		if !bytes.Equal(hops[i].Extra, want.Extra) {
			t.Fatalf("hop %d extra mismatch", i)
		}
	}
}

func TestExecuteCalldataLayout(t *testing.T) {
	data, err := EncodeExecuteCalldata(sampleRoute())
	if err != nil {
		t.Fatalf("EncodeExecuteCalldata: %v", err)
	}
	sel := execABI.Methods["execute"].ID
	if !bytes.HasPrefix(data, sel) {
		t.Fatalf("selector = %x, want %x", data[:4], sel)
	}

	vals, err := execABI.Methods["execute"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := vals[0].(uint8); got != uint8(profit.SourceBalancerV3) {
		t.Fatalf("flashSource = %d, want %d", got, profit.SourceBalancerV3)
	}
	if got := vals[2].(*big.Int); got.Cmp(big.NewInt(25_000_000_000)) != 0 {
		t.Fatalf("loanAmount = %s", got)
	}
	inner, err := DecodeRouteData(vals[3].([]byte))
	if err != nil {
		t.Fatalf("inner routeData: %v", err)
	}
	if len(inner) != 2 {
		t.Fatalf("inner hops = %d, want 2", len(inner))
	}
}

func TestCalldataFitsWellUnderCap(t *testing.T) {
	route := sampleRoute()
	// Pad to the maximum hop count; still nowhere near the cap.
	for len(route.Hops) < MaxHops {
		route.Hops = append(route.Hops, route.Hops[0])
	}
	data, err := EncodeExecuteCalldata(route)
	if err != nil {
		t.Fatalf("EncodeExecuteCalldata: %v", err)
	}
	if len(data) > MaxCalldataBytes {
		t.Fatalf("calldata %d bytes exceeds cap %d", len(data), MaxCalldataBytes)
	}
}
