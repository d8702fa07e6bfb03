// Package configs loads the monitor's environment-backed configuration
// surface. Grounded on the teacher's configs/config.go (a Config struct,
// a LoadConfig constructor, and To*Config translation methods), adapted
// from a YAML file to environment variables plus an optional .env file
// via github.com/joho/godotenv, matching how the rest of the retrieval
// pack loads local-dev configuration (other_examples/manifests/*).
package configs

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/sentinel-labs/oracle-monitor/internal/chain"
	"github.com/sentinel-labs/oracle-monitor/internal/decider"
	"github.com/sentinel-labs/oracle-monitor/internal/filter"
)

// Config is the fully-parsed configuration surface described in the
// design's environment table.
type Config struct {
	ChainRPCURL   string
	SignerKey     string // hex-encoded ECDSA private key, or an AES-GCM envelope if EncryptionKey is set
	EncryptionKey string // optional passphrase; when set, SignerKey is decrypted with it before use

	Addresses chain.Addresses

	LLMAPIKey string

	PollInterval time.Duration

	PriceDeviationThresholdPct float64
	ExtremeMoveThresholdPct    float64
	LargeSwapWETH              *big.Int

	PauseConfidenceThreshold             float64
	BlockLiquidationConfidenceThreshold float64

	RestoreDelay time.Duration

	EventStoreCapacity     int
	AnalyzedEventsCapacity int

	LLMCallTimeout time.Duration

	// MySQLDSN, when non-empty, enables the durable event mirror
	// (gorm.io/driver/mysql). Format:
	// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	MySQLDSN string
}

// Load reads the configuration from the environment, optionally loading
// a .env file first (ignored if absent — local-dev convenience only).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	var err error
	if cfg.ChainRPCURL, err = requireEnv("CHAIN_RPC_URL"); err != nil {
		return nil, err
	}
	if cfg.SignerKey, err = requireEnv("SIGNER_KEY"); err != nil {
		return nil, err
	}
	cfg.EncryptionKey = os.Getenv("ENC_KEY")
	if cfg.LLMAPIKey, err = requireEnv("LLM_API_KEY"); err != nil {
		return nil, err
	}

	addrFields := map[string]*common.Address{
		"CONTRACT_WETH":   &cfg.Addresses.WETH,
		"CONTRACT_USDC":   &cfg.Addresses.USDC,
		"CONTRACT_ORACLE": &cfg.Addresses.Oracle,
		"CONTRACT_AMM":    &cfg.Addresses.AMM,
		"CONTRACT_VAULT":  &cfg.Addresses.Vault,
	}
	for env, target := range addrFields {
		raw, err := requireEnv(env)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%s: %q is not a valid address", env, raw)
		}
		*target = common.HexToAddress(raw)
	}

	cfg.PollInterval = envDurationSeconds("POLL_INTERVAL_SEC", 2)
	cfg.PriceDeviationThresholdPct = envFloat("PRICE_DEVIATION_THRESHOLD_PCT", 5.0)
	cfg.ExtremeMoveThresholdPct = envFloat("EXTREME_MOVE_THRESHOLD_PCT", 10.0)
	cfg.LargeSwapWETH = big.NewInt(envInt("LARGE_SWAP_WETH", 10))
	cfg.PauseConfidenceThreshold = envFloat("PAUSE_CONFIDENCE_THRESHOLD", 0.75)
	cfg.BlockLiquidationConfidenceThreshold = envFloat("BLOCK_LIQUIDATION_CONFIDENCE_THRESHOLD", 0.50)
	cfg.RestoreDelay = envDurationSeconds("RESTORE_DELAY_SEC", 5)
	cfg.EventStoreCapacity = envInt("EVENT_STORE_CAPACITY", 10000)
	cfg.AnalyzedEventsCapacity = envInt("ANALYZED_EVENTS_CAPACITY", 1000)
	cfg.LLMCallTimeout = envDurationSeconds("LLM_CALL_TIMEOUT_SEC", 10)
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")

	return cfg, nil
}

// ToFilterConfig translates the loaded configuration into the anomaly
// filter's threshold set.
func (c *Config) ToFilterConfig() filter.Config {
	return filter.Config{
		DeviationThresholdPct:     c.PriceDeviationThresholdPct,
		LargeSwapWETH:             c.LargeSwapWETH,
		RecoveryCalmThresholdPct:  1,
		RecoverySpikeThresholdPct: 10,
		ExtremeMoveThresholdPct:   c.ExtremeMoveThresholdPct,
	}
}

// ToDeciderConfig translates the loaded configuration into the policy
// table's confidence gates.
func (c *Config) ToDeciderConfig() decider.Config {
	return decider.Config{
		PauseConfidenceThreshold:            c.PauseConfidenceThreshold,
		BlockLiquidationConfidenceThreshold: c.BlockLiquidationConfidenceThreshold,
	}
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable %s", key)
	}
	return v, nil
}

func envDurationSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}
