package main

import (
	"context"
	"flag"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"tradeteam/internal/cli"
	"tradeteam/internal/config"
	"tradeteam/internal/repo"
	"tradeteam/pkg/advisor"
	"tradeteam/pkg/agents"
	"tradeteam/pkg/bus"
	"tradeteam/pkg/changemgr"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/exchange/sim"
	"tradeteam/pkg/journal"
	"tradeteam/pkg/state"
	"tradeteam/pkg/strategy"
	"tradeteam/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("f", "etc/team.yaml", "config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	advCfg, err := cfg.LoadAdvisor()
	if err != nil {
		logx.Must(err)
	}
	adv, err := advisor.New(advCfg)
	if err != nil {
		logx.Must(err)
	}
	if adv != nil {
		logx.Infof("[main] advisory backend: %s", adv.Backend())
	} else {
		logx.Info("[main] no advisory backend, rule-based fallbacks only")
	}

	client := sim.New(sim.WithInitialEquity(cfg.Trading.InitialCapital), sim.WithFeeRate(cfg.Trading.FeeRate))

	store := state.New(client, cfg.Trading.Instrument, cfg.Trading.InitialCapital,
		config.DefaultStrategyParams(), config.DefaultParamBounds())
	engine := strategy.NewEngine(cfg.Trading.InitialCapital, cfg.Pool.StopLossRatio, cfg.Pool.ReentryGainRatio)
	b := bus.New(bus.WithHistorySize(cfg.HistorySize))
	jw := journal.NewWriter(cfg.Journal.Dir, journal.Codec(cfg.Journal.Codec))

	changes, err := changemgr.New(cfg.Changes.BackupDir, cfg.Changes.AllowedPaths)
	if err != nil {
		logx.Must(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditRepo := repo.New(cfg.Postgres.DSN)
	if auditRepo != nil {
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			logx.Must(err)
		}
	}

	producer := agents.NewSignalProducer(agents.SignalProducerConfig{
		Interval:    time.Duration(cfg.Intervals.SignalSec) * time.Second,
		Bar:         cfg.Trading.Bar,
		CandleLimit: cfg.Trading.CandleLimit,
	}, b, store, client, engine, adv)

	executor := agents.NewExecutor(agents.ExecutorConfig{
		Interval:        time.Duration(cfg.Intervals.ExecutorSec) * time.Second,
		ApprovalTimeout: time.Duration(cfg.Intervals.ApprovalTimeoutSec) * time.Second,
	}, b, store, client, jw)

	guardian := agents.NewRiskGuardian(agents.GuardianConfig{
		Interval:            time.Duration(cfg.Intervals.GuardianSec) * time.Second,
		WarnDrawdown:        cfg.Risk.WarnDrawdown,
		BlockDrawdown:       cfg.Risk.BlockDrawdown,
		StopDrawdown:        cfg.Risk.StopDrawdown,
		MinSignalConfidence: cfg.Risk.MinSignalConfidence,
		MaxPositionRatio:    cfg.Risk.MaxPositionRatio,
	}, b, store, client, adv, changes, jw)

	optimizer := agents.NewOptimizer(agents.OptimizerConfig{
		Interval:      time.Duration(cfg.Intervals.OptimizerPollSec) * time.Second,
		OptimizeEvery: time.Duration(cfg.Intervals.OptimizeEveryHours) * time.Hour,
	}, b, store, client, adv)

	runners := []*worker.Runner{
		worker.NewRunner(producer, store),
		worker.NewRunner(executor, store),
		worker.NewRunner(guardian, store, worker.WithEmergencyExempt()),
		worker.NewRunner(optimizer, store),
	}
	if auditRepo != nil {
		auditor := repo.NewAuditor(10*time.Second, b, auditRepo, cfg.Trading.Instrument)
		runners = append(runners, worker.NewRunner(auditor, store))
	}
	group := worker.NewGroup(runners...)

	// The paper exchange needs a market: feed it a random walk so the whole
	// pipeline runs end to end without a venue connection.
	threading.GoSafe(func() { feedMarket(ctx, client, cfg) })

	group.Start(ctx)
	logx.Infof("[main] team running on %s with %.2f capital", cfg.Trading.Instrument, cfg.Trading.InitialCapital)

	<-ctx.Done()
	logx.Info("[main] shutting down")
	if err := group.Stop(shutdownTimeout); err != nil {
		logx.Errorf("[main] shutdown: %v", err)
	}
}

// feedMarket drives the sim exchange with a seeded random walk, emitting one
// candle per second.
func feedMarket(ctx context.Context, client *sim.Client, cfg *config.Config) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	price := 50000.0
	window := make([]exchange.Candle, 0, cfg.Trading.CandleLimit)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		open := price
		price *= 1 + (rng.Float64()-0.5)*0.002
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		window = append(window, exchange.Candle{
			Timestamp: time.Now().UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    rng.Float64() * 10,
		})
		if len(window) > cfg.Trading.CandleLimit {
			window = window[1:]
		}
		client.LoadCandles(cfg.Trading.Instrument, window)
	}
}
