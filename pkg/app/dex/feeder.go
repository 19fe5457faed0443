package dex

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FeederConfig controls simulated order flow on a devnet
type FeederConfig struct {
	TxPerSecond int           // target orders per second
	Interval    time.Duration // how often a batch is applied
	NumAccounts int           // simulated traders
	Tickers     []string      // assets to trade
	Seed        int64
}

// DefaultFeederConfig returns a modest load over tickers
func DefaultFeederConfig(tickers []string) FeederConfig {
	return FeederConfig{
		TxPerSecond: 20,
		Interval:    100 * time.Millisecond,
		NumAccounts: 10,
		Tickers:     tickers,
		Seed:        time.Now().UnixNano(),
	}
}

func (c FeederConfig) batchSize() int {
	n := int(float64(c.TxPerSecond) * c.Interval.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// StartFeeder funds simulated traders, then applies random orders until ctx ends
// Rejected orders are expected (insufficient balance, empty book) and only counted.
// The returned function stops the feeder and waits for it to exit.
func StartFeeder(ctx context.Context, app *App, cfg FeederConfig, logger *zap.Logger) (context.CancelFunc, error) {
	gen, err := NewTxGenerator(cfg.NumAccounts, cfg.Tickers, app.Domain(), cfg.Seed)
	if err != nil {
		return nil, err
	}
	if err := gen.Fund(ctx, app); err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	sugar := logger.Sugar()
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		lastReport := start
		var applied, rejected int

		sugar.Infow("feeder_started",
			"tx_per_second", cfg.TxPerSecond,
			"batch", cfg.batchSize(),
			"interval", cfg.Interval,
			"accounts", cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				sugar.Infow("feeder_stopped",
					"applied", applied,
					"rejected", rejected,
					"elapsed", elapsed.Round(time.Second))
				return

			case <-ticker.C:
				batch, err := gen.GenerateBatch(cfg.batchSize())
				if err != nil {
					sugar.Errorw("feeder_generate_failed", "err", err)
				}
				for _, tx := range batch {
					if _, err := app.ApplyTx(feedCtx, tx); err != nil {
						rejected++
						continue
					}
					applied++
				}

				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					stats := gen.Stats(time.Since(start))
					sugar.Infow("feeder_stats",
						"applied", applied,
						"rejected", rejected,
						"rate", stats.Rate,
						"accounts", stats.Accounts,
						"tickers", stats.Tickers)
				}
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
	}
	return stop, nil
}
