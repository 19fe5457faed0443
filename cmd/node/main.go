package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/params"
	"github.com/uhyunpark/tokendex/pkg/api"
	"github.com/uhyunpark/tokendex/pkg/app/core/asset"
	"github.com/uhyunpark/tokendex/pkg/app/dex"
	"github.com/uhyunpark/tokendex/pkg/crypto"
	"github.com/uhyunpark/tokendex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel.String())

	// ---- App: token exchange ----
	if !common.IsHexAddress(cfg.Exchange.Admin) {
		sugar.Fatalw("invalid_admin_address", "admin", cfg.Exchange.Admin)
	}
	admin := common.HexToAddress(cfg.Exchange.Admin)
	quote, err := asset.ParseTicker(cfg.Exchange.Quote)
	if err != nil {
		sugar.Fatalw("invalid_quote_ticker", "err", err)
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Exchange.ChainID)

	appCfg := dex.Config{
		Admin:        admin,
		Quote:        quote,
		Domain:       domain,
		RecentTrades: cfg.Node.RecentTrades,
	}
	if cfg.Node.EnableFaucet {
		amount, err := uint256.FromDecimal(cfg.Node.FaucetAmount)
		if err != nil {
			sugar.Fatalw("invalid_faucet_amount", "amount", cfg.Node.FaucetAmount, "err", err)
		}
		appCfg.FaucetAmount = amount
	}

	app, err := dex.New(appCfg, dex.WithLogger(logger))
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer app.Close()

	// Devnet bootstrap: the admin lists every configured asset, quote first
	listed := []string{quote.String()}
	for _, symbol := range cfg.Exchange.Listed {
		if symbol != quote.String() {
			listed = append(listed, symbol)
		}
	}
	var tradable []string
	for _, symbol := range listed {
		ticker, err := asset.ParseTicker(symbol)
		if err != nil {
			sugar.Fatalw("invalid_listed_ticker", "ticker", symbol, "err", err)
		}
		if err := app.ListAsset(admin, ticker); err != nil {
			sugar.Fatalw("asset_listing_failed", "ticker", symbol, "err", err)
		}
		if ticker != quote {
			tradable = append(tradable, symbol)
		}
	}
	sugar.Infow("assets_listed", "quote", quote.String(), "tradable", tradable)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Transaction Feeder (optional) ----
	// Enable with: FEED_TX_PER_SECOND=20 (requires the faucet)
	if cfg.Node.FeedTxPerSecond > 0 && len(tradable) > 0 {
		feedCfg := dex.DefaultFeederConfig(tradable)
		feedCfg.TxPerSecond = cfg.Node.FeedTxPerSecond
		stopFeeder, err := dex.StartFeeder(ctx, app, feedCfg, logger.Named("feeder"))
		if err != nil {
			sugar.Fatalw("feeder_start_failed", "err", err)
		}
		defer stopFeeder()
	} else {
		sugar.Info("feeder_disabled")
	}

	// ---- API Server ----
	apiServer := api.NewServer(app,
		api.WithLogger(logger.Named("api")),
		api.WithCORSOrigins(cfg.API.CORSOrigins))

	sugar.Infow("node_starting",
		"admin", admin.Hex(),
		"chain_id", cfg.Exchange.ChainID,
		"faucet", app.FaucetEnabled(),
		"api_addr", cfg.API.Addr)

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		return
	}
	sugar.Info("node_stopped")
}
