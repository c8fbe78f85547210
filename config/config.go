// Package config loads and validates the engine configuration from the
// environment. The resulting Config is immutable; nothing reconfigures at
// runtime.
package config

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/dexarb/arbiter/registry"
)

// Mode is the master execution switch.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// placeholderKey is the well-known throwaway key that ships in example env
// files. Signing with it is always refused.
const placeholderKey = "0000000000000000000000000000000000000000000000000000000000000001"

// ErrConfig wraps any fatal configuration problem; main exits 1 on it.
type ErrConfig struct{ Reason string }

func (e *ErrConfig) Error() string { return "config: " + e.Reason }

// Config is the full engine configuration.
type Config struct {
	Mode Mode

	// Control plane bind address.
	Host string
	Port int

	// Per-chain RPC endpoints keyed by chain name (see registry defaults).
	RPCURLs       map[string]string
	BackupRPCURLs map[string]string

	// Signing.
	PrivateKey        *ecdsa.PrivateKey // nil in PAPER mode
	ExecutorAddresses map[uint64]common.Address

	// Thresholds.
	MinProfitUSD       decimal.Decimal
	MinLoanUSD         decimal.Decimal
	MaxSlippageBps     int64
	MaxBaseFeeGwei     int64
	MaxConcurrentTxs   int
	GasLimitMultiplier float64

	// Scan loop.
	ScanInterval   time.Duration
	WorkerWidth    int
	TradeSizesUSD  []int64
	SignalQueueCap int

	// Relay.
	RelayURL        string
	RelayAuth       string
	RelayHashSecret string
	RelayTLSCert    string
	RelayTLSKey     string
	MempoolFallback bool

	// Advisory / model paths. Missing files degrade to heuristics.
	CatboostModelPath string
	HFModelPath       string
	MLModelPath       string
	SelfLearningPath  string
	ModelCacheDir     string
	RealtimeTraining  bool

	// Logging.
	LogFile  string
	LogLevel string
}

// Load reads the environment and produces a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("EXECUTION_MODE", string(ModePaper))
	v.SetDefault("EXECUTION_HOST", "127.0.0.1")
	v.SetDefault("EXECUTION_PORT", 8545)
	v.SetDefault("MIN_PROFIT_USD", "5")
	v.SetDefault("MIN_LOAN_USD", "10000")
	v.SetDefault("MAX_SLIPPAGE_BPS", 50)
	v.SetDefault("MAX_BASE_FEE_GWEI", 500)
	v.SetDefault("MAX_CONCURRENT_TXS", 3)
	v.SetDefault("GAS_LIMIT_MULTIPLIER", 1.2)
	v.SetDefault("SCAN_INTERVAL_MS", 2000)
	v.SetDefault("SCAN_WORKERS", 20)
	v.SetDefault("TRADE_SIZES_USD", "500,1000,2000,5000")
	v.SetDefault("SIGNAL_QUEUE_CAP", 256)
	v.SetDefault("MEMPOOL_FALLBACK", true)
	v.SetDefault("BLOXROUTE_URL", "https://api.blxrbdn.com")
	v.SetDefault("LOG_LEVEL", "info")

	mode := Mode(strings.ToUpper(v.GetString("EXECUTION_MODE")))
	if mode != ModePaper && mode != ModeLive {
		return nil, &ErrConfig{Reason: fmt.Sprintf("EXECUTION_MODE must be PAPER or LIVE, got %q", v.GetString("EXECUTION_MODE"))}
	}

	sizes, err := parseTradeSizes(v.GetString("TRADE_SIZES_USD"))
	if err != nil {
		return nil, &ErrConfig{Reason: "TRADE_SIZES_USD: " + err.Error()}
	}

	cfg := &Config{
		Mode:               mode,
		Host:               v.GetString("EXECUTION_HOST"),
		Port:               v.GetInt("EXECUTION_PORT"),
		RPCURLs:            map[string]string{},
		BackupRPCURLs:      map[string]string{},
		ExecutorAddresses:  map[uint64]common.Address{},
		MinProfitUSD:       mustDecimal(v.GetString("MIN_PROFIT_USD")),
		MinLoanUSD:         mustDecimal(v.GetString("MIN_LOAN_USD")),
		MaxSlippageBps:     v.GetInt64("MAX_SLIPPAGE_BPS"),
		MaxBaseFeeGwei:     v.GetInt64("MAX_BASE_FEE_GWEI"),
		MaxConcurrentTxs:   v.GetInt("MAX_CONCURRENT_TXS"),
		GasLimitMultiplier: v.GetFloat64("GAS_LIMIT_MULTIPLIER"),
		ScanInterval:       time.Duration(v.GetInt64("SCAN_INTERVAL_MS")) * time.Millisecond,
		WorkerWidth:        v.GetInt("SCAN_WORKERS"),
		TradeSizesUSD:      sizes,
		SignalQueueCap:     v.GetInt("SIGNAL_QUEUE_CAP"),
		RelayURL:           v.GetString("BLOXROUTE_URL"),
		RelayAuth:          v.GetString("BLOXROUTE_AUTH"),
		RelayHashSecret:    v.GetString("BLOX_HASH_SECRET"),
		RelayTLSCert:       v.GetString("BLOX_TLS_CERT"),
		RelayTLSKey:        v.GetString("BLOX_TLS_KEY"),
		MempoolFallback:    v.GetBool("MEMPOOL_FALLBACK"),
		CatboostModelPath:  v.GetString("CATBOOST_MODEL_PATH"),
		HFModelPath:        v.GetString("HF_MODEL_PATH"),
		MLModelPath:        v.GetString("ML_MODEL_PATH"),
		SelfLearningPath:   v.GetString("SELF_LEARNING_DATA_PATH"),
		ModelCacheDir:      v.GetString("MODEL_CACHE_DIR"),
		RealtimeTraining:   v.GetBool("ENABLE_REALTIME_TRAINING"),
		LogFile:            v.GetString("LOG_FILE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}

	for _, c := range registry.DefaultChains() {
		name := strings.ToUpper(c.Name)
		if url := v.GetString("RPC_" + name); url != "" {
			cfg.RPCURLs[c.Name] = url
		}
		if url := v.GetString("RPC_" + name + "_BACKUP"); url != "" {
			cfg.BackupRPCURLs[c.Name] = url
		}
		if addr := v.GetString("EXECUTOR_ADDRESS_" + name); addr != "" {
			if !common.IsHexAddress(addr) {
				return nil, &ErrConfig{Reason: "EXECUTOR_ADDRESS_" + name + " is not a valid address"}
			}
			cfg.ExecutorAddresses[c.ID] = common.HexToAddress(addr)
		}
	}
	// Unsuffixed EXECUTOR_ADDRESS applies to any chain without a specific
	// entry.
	if addr := v.GetString("EXECUTOR_ADDRESS"); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, &ErrConfig{Reason: "EXECUTOR_ADDRESS is not a valid address"}
		}
		for _, c := range registry.DefaultChains() {
			if _, ok := cfg.ExecutorAddresses[c.ID]; !ok {
				cfg.ExecutorAddresses[c.ID] = common.HexToAddress(addr)
			}
		}
	}

	if mode == ModeLive {
		key, err := ParsePrivateKey(v.GetString("PRIVATE_KEY"))
		if err != nil {
			return nil, err
		}
		cfg.PrivateKey = key
	}

	if cfg.GasLimitMultiplier < 1.0 {
		return nil, &ErrConfig{Reason: "GAS_LIMIT_MULTIPLIER must be >= 1.0"}
	}
	if cfg.WorkerWidth <= 0 || cfg.SignalQueueCap <= 0 {
		return nil, &ErrConfig{Reason: "SCAN_WORKERS and SIGNAL_QUEUE_CAP must be positive"}
	}
	return cfg, nil
}

// ParsePrivateKey validates and decodes a 64-hex signing key, with or
// without a 0x prefix. The placeholder key is refused.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, &ErrConfig{Reason: "PRIVATE_KEY is required in LIVE mode"}
	}
	if len(raw) != 64 {
		return nil, &ErrConfig{Reason: "PRIVATE_KEY must be 32 bytes of hex"}
	}
	if strings.EqualFold(raw, placeholderKey) {
		return nil, &ErrConfig{Reason: "PRIVATE_KEY is the placeholder key"}
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return nil, &ErrConfig{Reason: "PRIVATE_KEY is not hex"}
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, &ErrConfig{Reason: "PRIVATE_KEY is not a valid secp256k1 scalar"}
	}
	return key, nil
}

// parseTradeSizes decodes the comma-separated USD size sweep.
func parseTradeSizes(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	sizes := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%q is not a positive integer", p)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no trade sizes configured")
	}
	return sizes, nil
}

// IsPlaceholderKey reports whether raw is the refused example key.
func IsPlaceholderKey(raw string) bool {
	return strings.EqualFold(strings.TrimPrefix(raw, "0x"), placeholderKey)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NewFromInt(5)
	}
	return d
}
