// Command drop_table drops chat tables. With no arguments it drops all of them.
package main

import (
	"fmt"
	"os"
	"slices"

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

	tables := os.Args[1:]
	if len(tables) == 0 {
		tables = db.Tables
	}
	for _, t := range tables {
		if !slices.Contains(db.Tables, t) {
			logging.Fatal().Str("table", t).Strs("known", db.Tables).Msg("unknown table")
		}
	}

	session, err := db.NewSession(db.Options{Hosts: cfg.Scylla.Hosts, Keyspace: cfg.Scylla.Keyspace, Timeout: cfg.Scylla.Timeout})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to scylla")
	}
	defer session.Close()

	for _, t := range tables {
		logging.Info().Str("table", t).Msg("dropping table")
		if err := session.Query("DROP TABLE IF EXISTS " + t).Exec(); err != nil {
			logging.Fatal().Err(err).Str("table", t).Msg("failed to drop table")
		}
	}
	logging.Info().Int("tables", len(tables)).Msg("tables dropped")
}
