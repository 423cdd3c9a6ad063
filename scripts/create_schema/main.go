// Command create_schema creates the chat keyspace and every table in it.
package main

import (
	"fmt"
	"os"

	"github.com/mahaj/chatrelay/pkg/config"
	"github.com/mahaj/chatrelay/pkg/db"
	"github.com/mahaj/chatrelay/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})

	session, err := db.Bootstrap(db.Options{Hosts: cfg.Scylla.Hosts, Keyspace: cfg.Scylla.Keyspace, Timeout: cfg.Scylla.Timeout})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create schema")
	}
	defer session.Close()

	logging.Info().Str("keyspace", cfg.Scylla.Keyspace).Strs("tables", db.Tables).Msg("schema is up to date")
}
