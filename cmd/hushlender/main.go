package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/hush-protocol/hushlender/internal/config"
	"github.com/hush-protocol/hushlender/internal/ledger"
	"github.com/hush-protocol/hushlender/internal/lendpool"
	"github.com/hush-protocol/hushlender/internal/logger"
	"github.com/hush-protocol/hushlender/internal/manager"
	"github.com/hush-protocol/hushlender/internal/state"
	"github.com/hush-protocol/hushlender/internal/swap"
	"github.com/hush-protocol/hushlender/internal/utils"
	"github.com/hush-protocol/hushlender/internal/web"
)

// Well-known addresses of the in-process environment. Assets are identified
// by address exactly like tokens; the pool, router and manager each own a
// ledger account.
var (
	addrDAI     = common.HexToAddress("0x00000000000000000000000000000000000d0a01")
	addrWETH    = common.HexToAddress("0x000000000000000000000000000000000000e702")
	addrPool    = common.HexToAddress("0x0000000000000000000000000000000000900001")
	addrRouter  = common.HexToAddress("0x0000000000000000000000000000000000900002")
	addrManager = common.HexToAddress("0x0000000000000000000000000000000000900003")
)

// main is the entry point for the hushlender daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Hushlender Position Manager Starting...")

	// Initialize Database Connection (operation receipt audit store)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Execution Environment ---
	book := ledger.New()

	oracle := lendpool.NewStaticOracle()
	oracle.SetPrice(addrDAI, sdkmath.LegacyOneDec())
	oracle.SetPrice(addrWETH, sdkmath.LegacyMustNewDecFromStr("1650"))

	pool, err := lendpool.New(lendpool.Config{
		Address:                 addrPool,
		PremiumBps:              config.FlashLoanPremiumBps,
		MaxLTVBps:               config.MaxLTVBps,
		LiquidationThresholdBps: config.LiquidationThresholdBps,
		ReserveFactorBps:        1000,
		Oracle:                  oracle,
	}, book)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize lending pool")
	}

	router, err := swap.NewAMM(addrRouter, book, 30, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize swap router")
	}
	venues := swap.NewRegistry()
	if err := venues.Register(router.Address(), router); err != nil {
		log.Fatal().Err(err).Msg("Failed to register swap router")
	}

	if err := seedEnvironment(book, router.Address()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed environment balances")
	}

	// --- 3. Position Manager ---
	mgr, err := manager.New(config.Owner, addrManager, addrWETH, pool, book, venues)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize position manager")
	}
	mgr.SetReceiptSink(state.ReceiptRecorder{})

	log.Info().
		Str("owner", config.Owner.Hex()).
		Str("manager", addrManager.Hex()).
		Str("pool", addrPool.Hex()).
		Str("router", addrRouter.Hex()).
		Msg("Position manager ready")

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, mgr)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Wait for Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received, exiting.")
}

// seedEnvironment mints the genesis balances: router swap inventory, pool
// lending liquidity and the manager's working capital.
func seedEnvironment(book *ledger.Ledger, routerAddr common.Address) error {
	seed := []struct {
		asset  common.Address
		holder common.Address
		whole  int64
	}{
		{addrDAI, routerAddr, 1_000_000},
		{addrWETH, routerAddr, 600},
		{addrDAI, addrPool, 500_000},
		{addrWETH, addrPool, 100},
		{addrDAI, addrManager, 10_000},
	}
	for _, entry := range seed {
		amount, err := utils.WholeTokensToWei(entry.whole, 18)
		if err != nil {
			return err
		}
		if err := book.Mint(entry.asset, entry.holder, amount); err != nil {
			return err
		}
	}
	return nil
}

// mustAtoi parses an integer with a fallback default.
func mustAtoi(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
