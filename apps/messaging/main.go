// Command messaging consumes chat domain events from Kafka and maintains the
// per-user unread counters in Scylla.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/config"
	"github.com/mahaj/chatrelay/pkg/db"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/snowflake"
	"github.com/mahaj/chatrelay/pkg/store"
	"github.com/mahaj/chatrelay/pkg/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	// Counters live next to the channels they count; the memory store would
	// not be shared with the server process.
	session, err := db.Bootstrap(db.Options{Hosts: cfg.Scylla.Hosts, Keyspace: cfg.Scylla.Keyspace, Timeout: cfg.Scylla.Timeout})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to scylla")
	}
	st := store.NewScylla(session)
	defer st.Close()

	ids, err := snowflake.NewNode(2)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create id generator")
	}
	svc := chat.NewService(st, ids, chat.Options{})

	consumer := NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, svc)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddMessagingService(supervisor.NewRunnerService("unread-consumer", consumer))

	logging.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Str("group", cfg.Kafka.GroupID).Msg("messaging consumer starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
}
