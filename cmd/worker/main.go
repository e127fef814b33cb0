package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/config"
	"github.com/joripage/execution-dev/pkg/exec/archive"
	"github.com/joripage/execution-dev/pkg/exec/repo"
	postgres_wrapper "github.com/joripage/execution-dev/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/execution-dev/pkg/kafka_wrapper"
	"github.com/joripage/execution-dev/pkg/logging"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

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

	if cfg.Kafka == nil || cfg.ArchiveDB == nil {
		log.Fatal("archive worker needs kafka and archive_db configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	// init db
	db := postgres_wrapper.InitPostgresWithBackoff(cfg.ArchiveDB)
	sqlRepo := repo.NewRepo(db)
	if err := sqlRepo.Migrate(); err != nil {
		log.Fatalw("migrate fail", "error", err)
	}

	cg, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.Topic,
		DLQTopic: cfg.Kafka.Topic + ".dlq",
	})
	if err != nil {
		log.Fatalw("consumer init fail", "error", err)
	}
	defer cg.Close() // nolint

	w := archive.NewWorker(sqlRepo, log)
	log.Infow("archive worker started", "topic", cfg.Kafka.Topic)
	if err := w.Run(ctx, cg); err != nil && ctx.Err() == nil {
		log.Errorw("worker stopped with error", "error", err)
	}
	log.Infow("exited cleanly")
}
