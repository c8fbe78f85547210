package registry

import "github.com/ethereum/go-ethereum/common"

// Default tables for the supported deployment: Polygon is the single
// execution-enabled chain, Ethereum and Arbitrum are observe-only.
// Addresses are mainnet deployments.

// DefaultChains returns the built-in chain table. RPC URLs are filled in
// from configuration before the table is handed to New.
func DefaultChains() []Chain {
	return []Chain{
		{
			ID:            1,
			Name:          "ethereum",
			WrappedNative: "WETH",
			GasMode:       GasModeEIP1559,
			BlockTimeHint: 12,
			Status:        StatusConfigured,
		},
		{
			ID:            137,
			Name:          "polygon",
			WrappedNative: "WMATIC",
			GasMode:       GasModeEIP1559,
			BlockTimeHint: 2.1,
			Status:        StatusEnabled,
		},
		{
			ID:            42161,
			Name:          "arbitrum",
			WrappedNative: "WETH",
			GasMode:       GasModeEIP1559,
			BlockTimeHint: 0.26,
			Status:        StatusConfigured,
		},
	}
}

// DefaultTokens returns the built-in token table.
func DefaultTokens() []Token {
	return []Token{
		// Ethereum mainnet
		{ChainID: 1, Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
		{ChainID: 1, Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6},
		{ChainID: 1, Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18},
		{ChainID: 1, Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
		{ChainID: 1, Symbol: "WBTC", Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Decimals: 8},

		// Polygon PoS
		{ChainID: 137, Symbol: "USDC", Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), Decimals: 6},
		{ChainID: 137, Symbol: "USDT", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6},
		{ChainID: 137, Symbol: "DAI", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18},
		{ChainID: 137, Symbol: "WETH", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18},
		{ChainID: 137, Symbol: "WBTC", Address: common.HexToAddress("0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6"), Decimals: 8},
		{ChainID: 137, Symbol: "WMATIC", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18},

		// Arbitrum One
		{ChainID: 42161, Symbol: "USDC", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6},
		{ChainID: 42161, Symbol: "USDT", Address: common.HexToAddress("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"), Decimals: 6},
		{ChainID: 42161, Symbol: "DAI", Address: common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"), Decimals: 18},
		{ChainID: 42161, Symbol: "WETH", Address: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), Decimals: 18},
		{ChainID: 42161, Symbol: "WBTC", Address: common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f"), Decimals: 8},
	}
}

// DefaultDexes returns the built-in venue table. Each UniV3 entry carries
// the QuoterV2 deployed on *that* chain.
func DefaultDexes() []Dex {
	return []Dex{
		// Ethereum mainnet
		{ChainID: 1, ID: "uniswap-v2", Router: common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"), Family: FamilyUniV2},
		{ChainID: 1, ID: "sushiswap", Router: common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"), Family: FamilyUniV2},
		{ChainID: 1, ID: "uniswap-v3", Router: common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"), Family: FamilyUniV3,
			Quoter: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")},
		{ChainID: 1, ID: "curve-3pool", Router: common.HexToAddress("0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7"), Family: FamilyCurve,
			CoinIndex: map[string]int64{"DAI": 0, "USDC": 1, "USDT": 2}},

		// Polygon PoS
		{ChainID: 137, ID: "quickswap", Router: common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"), Family: FamilyUniV2},
		{ChainID: 137, ID: "sushiswap", Router: common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"), Family: FamilyUniV2},
		{ChainID: 137, ID: "uniswap-v3", Router: common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"), Family: FamilyUniV3,
			Quoter: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")},
		{ChainID: 137, ID: "curve-aave", Router: common.HexToAddress("0x445FE580eF8d70FF569aB36e80c647af338db351"), Family: FamilyCurve,
			CoinIndex: map[string]int64{"DAI": 0, "USDC": 1, "USDT": 2}},

		// Arbitrum One
		{ChainID: 42161, ID: "sushiswap", Router: common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"), Family: FamilyUniV2},
		{ChainID: 42161, ID: "uniswap-v3", Router: common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"), Family: FamilyUniV3,
			Quoter: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")},
		{ChainID: 42161, ID: "curve-2pool", Router: common.HexToAddress("0x7f90122BF0700F9E7e1F688fe926940E8839F353"), Family: FamilyCurve,
			CoinIndex: map[string]int64{"USDC": 0, "USDT": 1}},
	}
}
