// Command crossvenue runs one atomic multi-leg execution against scripted
// in-memory venues and prints the outcome. It exists to demonstrate the
// wiring a host process needs: logger, policy, venue registry, engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/crossvenue/internal/config"
	"github.com/Aidin1998/crossvenue/internal/execution"
	"github.com/Aidin1998/crossvenue/internal/venue"
	"github.com/Aidin1998/crossvenue/internal/venue/venuetest"
	"github.com/Aidin1998/crossvenue/pkg/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to the execution policy YAML")
		logLevel    = flag.String("log-level", "info", "zap log level")
		metricsAddr = flag.String("metrics-addr", "", "address for the Prometheus /metrics endpoint, empty to disable")
	)
	flag.Parse()

	log, err := logger.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	policy, err := config.NewPolicyLoader(*configPath, log).Load()
	if err != nil {
		log.Fatal("failed to load execution policy", zap.Error(err))
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := run(policy, log); err != nil {
		log.Fatal("demo execution failed", zap.Error(err))
	}
}

// run wires two scripted venues into the engine and executes one
// delta-neutral pair: buy spot on one venue, sell a future on the other.
func run(policy execution.ExecutionPolicy, log *zap.Logger) error {
	spot := venuetest.NewMockClient()
	spot.SetBBO("BTC-USDT", decimal.NewFromInt(64990), decimal.NewFromInt(65010))
	spot.Program("BTC-USDT", venuetest.Script{
		FillPrice: decimal.NewFromInt(65000),
	})

	futures := venuetest.NewMockClient()
	futures.SetBBO("BTC-USDT-PERP", decimal.NewFromInt(65020), decimal.NewFromInt(65040))
	futures.Program("BTC-USDT-PERP", venuetest.Script{
		FillAfterPolls: 2,
		FillPrice:      decimal.NewFromInt(65030),
	})

	registry := venue.NewRegistry()
	registry.Register("spot", spot)
	registry.Register("futures", futures)

	journal := execution.NewJournal()
	engine, err := execution.NewAtomicMultiOrderExecutor(registry, policy, journal, log)
	if err != nil {
		return err
	}

	limitBuy := decimal.NewFromInt(65005)
	limitSell := decimal.NewFromInt(65025)
	specs := []execution.OrderSpec{
		{
			Venue:       "spot",
			Instrument:  "BTC-USDT",
			Side:        venue.SideBuy,
			Quantity:    decimal.NewFromInt(1),
			LimitPrice:  &limitBuy,
			Timeout:     5 * time.Second,
			NotionalUSD: decimal.NewFromInt(65000),
		},
		{
			Venue:       "futures",
			Instrument:  "BTC-USDT-PERP",
			Side:        venue.SideSell,
			Quantity:    decimal.NewFromInt(1),
			LimitPrice:  &limitSell,
			Timeout:     5 * time.Second,
			NotionalUSD: decimal.NewFromInt(65000),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := engine.ExecuteAtomically(ctx, specs)
	if err != nil {
		return err
	}

	log.Info("demo execution complete",
		zap.String("execution_id", result.ExecutionID.String()),
		zap.Bool("success", result.Success),
		zap.Bool("all_filled", result.AllFilled),
		zap.Int("retry_attempts", result.RetryAttempts),
		zap.Bool("rollback_performed", result.RollbackPerformed),
		zap.Duration("duration", result.Duration))
	return nil
}
