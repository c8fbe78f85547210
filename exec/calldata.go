package exec

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MaxCalldataBytes is the relay's bundle submission limit; enforced at
// Stage 3 regardless of gas economics.
const MaxCalldataBytes = 32_000

// The on-chain executor is invoked with a single four-field execute call.
// This layout is the one externally observable binary contract and must
// not change without a coordinated contract upgrade.
const executorABI = `[{
	"name":"execute","type":"function","stateMutability":"nonpayable",
	"inputs":[
		{"name":"flashSource","type":"uint8"},
		{"name":"loanToken","type":"address"},
		{"name":"loanAmount","type":"uint256"},
		{"name":"routeData","type":"bytes"}],
	"outputs":[]
}]`

var (
	execABI   abi.ABI
	routeArgs abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		panic(err)
	}
	execABI = parsed

	u8s, _ := abi.NewType("uint8[]", "", nil)
	addrs, _ := abi.NewType("address[]", "", nil)
	byteses, _ := abi.NewType("bytes[]", "", nil)
	routeArgs = abi.Arguments{
		{Name: "protocols", Type: u8s},
		{Name: "routers", Type: addrs},
		{Name: "tokenOutPath", Type: addrs},
		{Name: "extras", Type: byteses},
	}
}

// EncodeRouteData packs the per-hop arrays into the routeData blob: four
// same-length arrays (protocols, routers, tokenOutPath, extras).
func EncodeRouteData(hops []RouteHop) ([]byte, error) {
	n := len(hops)
	protocols := make([]uint8, n)
	routers := make([]common.Address, n)
	path := make([]common.Address, n)
	extras := make([][]byte, n)
	for i, h := range hops {
		protocols[i] = h.Protocol
		routers[i] = h.Router
		path[i] = h.TokenOut
		extras[i] = h.Extra
	}
	return routeArgs.Pack(protocols, routers, path, extras)
}

// DecodeRouteData is the inverse of EncodeRouteData; used by tests and
// the simulate endpoint's echo.
func DecodeRouteData(data []byte) ([]RouteHop, error) {
	vals, err := routeArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("exec: routeData decode: %w", err)
	}
	protocols := vals[0].([]uint8)
	routers := vals[1].([]common.Address)
	path := vals[2].([]common.Address)
	extras := vals[3].([][]byte)
	if len(routers) != len(protocols) || len(path) != len(protocols) || len(extras) != len(protocols) {
		return nil, fmt.Errorf("exec: routeData array length mismatch")
	}
	hops := make([]RouteHop, len(protocols))
	for i := range protocols {
		hops[i] = RouteHop{
			Protocol: protocols[i],
			Router:   routers[i],
			TokenOut: path[i],
			Extra:    extras[i],
		}
	}
	return hops, nil
}

// EncodeExecuteCalldata produces the full executor calldata for a route.
func EncodeExecuteCalldata(route *Route) ([]byte, error) {
	routeData, err := EncodeRouteData(route.Hops)
	if err != nil {
		return nil, fmt.Errorf("exec: routeData encode: %w", err)
	}
	return execABI.Pack("execute",
		uint8(route.Source),
		route.Token,
		new(big.Int).Set(route.Amount),
		routeData,
	)
}
