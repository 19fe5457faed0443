package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// DevnetAdminKey is the well-known first Hardhat/Anvil account key.
// Never use it outside a local devnet.
const DevnetAdminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type Exchange struct {
	Admin   string   // hex address allowed to list assets
	Quote   string   // ticker every price is denominated in
	Listed  []string // tickers listed at startup, quote included
	ChainID int64    // EIP-712 domain chain id
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Node struct {
	LogFile      string        // empty = stdout only
	LogLevel     zapcore.Level // engine and ledger events need debug
	RecentTrades int           // trades kept per ticker for the API
	EnableFaucet bool
	FaucetAmount string // base units per faucet call
	// FeedTxPerSecond drives simulated traders against the devnet; 0 disables.
	FeedTxPerSecond int
}

type Config struct {
	Exchange Exchange
	API      API
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Admin:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Quote:   "DAI",
			Listed:  []string{"DAI", "YAS", "BAT", "REP"},
			ChainID: 1337,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Node: Node{
			LogLevel:     zapcore.InfoLevel,
			RecentTrades: 100,
			EnableFaucet: true,
			FaucetAmount: "1000000000000000000000", // 1000 tokens at 18 decimals
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Optional: a missing .env is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.Admin = getEnv("ADMIN_ADDRESS", cfg.Exchange.Admin)
	cfg.Exchange.Quote = getEnv("QUOTE_TICKER", cfg.Exchange.Quote)
	if listed := os.Getenv("LISTED_TICKERS"); listed != "" {
		cfg.Exchange.Listed = splitList(listed)
	}
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Exchange.ChainID = v
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if v, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Node.LogLevel = v
		}
	}
	if n := os.Getenv("RECENT_TRADES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Node.RecentTrades = v
		}
	}
	if faucet := os.Getenv("ENABLE_FAUCET"); faucet != "" {
		cfg.Node.EnableFaucet = faucet == "true"
	}
	cfg.Node.FaucetAmount = getEnv("FAUCET_AMOUNT", cfg.Node.FaucetAmount)
	if tps := os.Getenv("FEED_TX_PER_SECOND"); tps != "" {
		if v, err := strconv.Atoi(tps); err == nil && v >= 0 {
			cfg.Node.FeedTxPerSecond = v
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses "a, b,c" into trimmed non-empty items
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
