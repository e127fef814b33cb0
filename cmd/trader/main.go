package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joripage/execution-dev/config"
	"github.com/joripage/execution-dev/pkg/exec/connector/sim"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/reconcile"
	"github.com/joripage/execution-dev/pkg/exec/riskrule"
	"github.com/joripage/execution-dev/pkg/exec/router"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
	"github.com/joripage/execution-dev/pkg/exec/tracking"
	redis_wrapper "github.com/joripage/execution-dev/pkg/infra/redis"
	kafkawrapper "github.com/joripage/execution-dev/pkg/kafka_wrapper"
	"github.com/joripage/execution-dev/pkg/logging"
	"github.com/joripage/execution-dev/pkg/telemetry"
)

func main() {
	var configFile string
	var demo bool
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.BoolVar(&demo, "demo", false, "Run a chase session against the simulated venue")
	flag.Parse()

	go func() {
		_ = http.ListenAndServe("localhost:6060", nil)
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel))
	defer logger.Sync() // nolint
	log := logger.Sugar()

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// event sinks: local append-only log, plus the archive topic
	var sinks eventlog.MultiSink
	var fileLog *eventlog.FileLog
	if cfg.EventLogDir != "" {
		fileLog, err = eventlog.NewFileLog(cfg.EventLogDir)
		if err != nil {
			log.Fatalw("event log init failed", "dir", cfg.EventLogDir, "error", err)
		}
		sinks = append(sinks, fileLog)
	}
	if cfg.Kafka != nil {
		producer := kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		defer producer.Close(context.Background()) // nolint
		sinks = append(sinks, eventlog.NewKafkaSink(producer, cfg.Kafka.Topic))
	}

	st := store.New()
	symbols := symbol.NewService()
	gate := riskrule.NewGate()
	svc := router.NewService(st, symbols, gate, sinks, log)

	gate.Add(riskrule.NewMinSize(symbols))
	if len(cfg.Risk.ExposureCaps) > 0 {
		gate.Add(riskrule.NewExposureCap(cfg.Risk.ExposureCaps, svc))
	}
	if cfg.Risk.Collateral > 0 {
		gate.Add(riskrule.NewCollateral(riskrule.StaticCollateral(cfg.Risk.Collateral), symbols))
	}

	// venues; the demo deployment runs simulated connectors
	engines := make(map[string]*reconcile.Engine)
	for _, vc := range cfg.Venues {
		venue := sim.New(sim.Config{
			Name:    vc.Name,
			COIBits: vc.COIBits,
			Symbols: demoSymbols(vc),
		})
		if err := venue.Start(ctx); err != nil {
			log.Fatalw("venue start failed", "venue", vc.Name, "error", err)
		}
		seedDemoBooks(venue, vc)
		svc.RegisterConnector(venue)
		for canonical, venueSym := range vc.Symbols {
			symbols.RegisterSymbol(canonical, map[string]string{vc.Name: venueSym})
		}

		engine := reconcile.NewEngine(reconcile.Config{
			PollInterval: vc.PollInterval(),
			PollTimeout:  vc.PollTimeout(),
		}, venue, st, symbols, sinks, log)
		engines[vc.Name] = engine
		go engine.Run(ctx)
	}

	// crash recovery: rebuild from event logs, then resync from venues
	if cfg.EventLogDir != "" {
		recovered, err := eventlog.Recover(cfg.EventLogDir)
		if err != nil {
			log.Warnw("event log scan failed", "error", err)
		}
		keys, err := svc.Recover(recovered)
		if err != nil {
			log.Fatalw("recovery failed", "error", err)
		}
		for _, key := range keys {
			if engine, ok := engines[key.Venue]; ok {
				engine.ForcePoll()
			}
		}
	}

	// heartbeat
	var pub telemetry.Publisher = telemetry.Nop{}
	if cfg.Redis != nil {
		redisClient, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			log.Warnw("redis init failed, heartbeat disabled", "error", err)
		} else {
			pub = telemetry.NewRedisPublisher(redisClient, cfg.ServiceName, 3*cfg.HeartbeatInterval())
		}
	}
	go telemetry.Heartbeat(ctx, pub, func() telemetry.Stats {
		live := 0
		for _, vc := range cfg.Venues {
			live += len(st.Live(vc.Name))
		}
		return telemetry.Stats{
			OrdersTotal: st.Len(),
			LiveOrders:  live,
			Venues:      len(cfg.Venues),
		}
	}, cfg.HeartbeatInterval(), log)

	if demo {
		go runDemo(ctx, cfg, svc, log)
	}

	log.Infow("execution engine started", "venues", len(cfg.Venues))
	<-sigs
	log.Infow("shutting down")

	// leave no live orders behind
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.CancelAll(shutdownCtx, ""); err != nil {
		log.Errorw("cancel sweep failed", "error", err)
	}
	cancel()
	if fileLog != nil {
		_ = fileLog.Close()
	}
	log.Infow("exited cleanly")
}

func demoSymbols(vc config.VenueConfig) map[string]sim.Symbol {
	out := make(map[string]sim.Symbol, len(vc.Symbols))
	for _, venueSym := range vc.Symbols {
		out[venueSym] = sim.Symbol{PriceDecimals: 2, SizeDecimals: 4, MinOrderSize: 10}
	}
	return out
}

func seedDemoBooks(venue *sim.Venue, vc config.VenueConfig) {
	for _, venueSym := range vc.Symbols {
		venue.SetBook(venueSym, model.TopOfBook{
			Bid: 10000, Ask: 10010, HasBid: true, HasAsk: true, Scale: 100,
		})
	}
	venue.AutoFill(300*time.Millisecond, 0.5)
}

func runDemo(ctx context.Context, cfg *config.AppConfig, svc *router.Service, log *zap.SugaredLogger) {
	if len(cfg.Venues) == 0 {
		return
	}
	vc := cfg.Venues[0]
	var canonical string
	for c := range vc.Symbols {
		canonical = c
		break
	}
	engine := tracking.NewEngine(svc, svc, svc.Locks(), log)
	report, err := engine.Run(ctx, model.TrackingLimitSpec{
		Venue:            vc.Name,
		Symbol:           canonical,
		Side:             model.OrderSideBuy,
		TargetSize:       1000,
		Interval:         time.Duration(cfg.Tracking.IntervalMs) * time.Millisecond,
		Timeout:          time.Duration(cfg.Tracking.TimeoutMs) * time.Millisecond,
		CancelWait:       time.Duration(cfg.Tracking.CancelWaitMs) * time.Millisecond,
		PriceOffsetTicks: cfg.Tracking.PriceOffsetTicks,
		MaxAttempts:      cfg.Tracking.MaxAttempts,
	})
	if err != nil {
		log.Warnw("demo session error", "error", err)
	}
	if report != nil {
		log.Infow("demo session report",
			"outcome", report.Outcome, "filled", report.FilledSize,
			"attempts", report.Attempts, "path", report.Path)
	}
}
