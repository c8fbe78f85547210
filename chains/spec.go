package chains

import "fmt"

// RelayNetwork maps a chain id to the network name the bloXroute relay
// expects in blxr_submit_bundle params. The mapping follows the relay's
// published network identifiers.
func RelayNetwork(chainID uint64) (string, error) {
	switch chainID {
	case 1:
		return "Mainnet", nil
	case 56:
		return "BSC-Mainnet", nil
	case 137:
		return "Polygon-Mainnet", nil
	case 42161:
		return "Arbitrum-Mainnet", nil
	default:
		return "", fmt.Errorf("chains: no relay network for chain %d", chainID)
	}
}

// NativeUSDDefault returns a conservative static USD price for a chain's
// native token, used when no on-chain price round-trip is available this
// iteration. Values are refreshed by the scanner when quoting succeeds.
func NativeUSDDefault(chainID uint64) string {
	switch chainID {
	case 1, 42161:
		return "3000" // ETH
	case 137:
		return "0.75" // MATIC/POL
	case 56:
		return "550" // BNB
	default:
		return "1"
	}
}
