package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Owner is the address allowed to drive every state-mutating position
	// manager entry point.
	Owner common.Address

	// FlashLoanPremiumBps is the flash-loan fee charged by the lending pool,
	// in basis points of the borrowed principal.
	FlashLoanPremiumBps uint64
	// MaxLTVBps is the maximum loan-to-value ratio the pool permits on
	// borrows, in basis points.
	MaxLTVBps uint64
	// LiquidationThresholdBps is the LTV at which positions become unhealthy,
	// in basis points.
	LiquidationThresholdBps uint64

	// WebPort is the port the read-only web API listens on.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global
// config vars. All listed environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Owner, err = getEnvAsAddress("HUSH_OWNER")
	if err != nil {
		return err
	}

	FlashLoanPremiumBps, err = getEnvAsBps("HUSH_PREMIUM_BPS")
	if err != nil {
		return err
	}

	MaxLTVBps, err = getEnvAsBps("HUSH_MAX_LTV_BPS")
	if err != nil {
		return err
	}

	LiquidationThresholdBps, err = getEnvAsBps("HUSH_LIQ_THRESHOLD_BPS")
	if err != nil {
		return err
	}

	if MaxLTVBps > LiquidationThresholdBps {
		return errors.New("HUSH_MAX_LTV_BPS must not exceed HUSH_LIQ_THRESHOLD_BPS")
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Str("Owner", Owner.Hex()).
		Uint64("FlashLoanPremiumBps", FlashLoanPremiumBps).
		Uint64("MaxLTVBps", MaxLTVBps).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBps retrieves an environment variable as basis points (0..10000).
func getEnvAsBps(key string) (uint64, error) {
	value, err := getEnvAsUint64(key)
	if err != nil {
		return 0, err
	}
	if value > 10_000 {
		return 0, errors.New("environment variable " + key + " must be at most 10000 basis points")
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a hex address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}
