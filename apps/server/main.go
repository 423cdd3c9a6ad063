// Command server runs the chat HTTP API and the realtime websocket gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/chatrelay/pkg/assistant"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/config"
	"github.com/mahaj/chatrelay/pkg/db"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/gateway"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/presence"
	"github.com/mahaj/chatrelay/pkg/snowflake"
	"github.com/mahaj/chatrelay/pkg/store"
	"github.com/mahaj/chatrelay/pkg/supervisor"
	"github.com/mahaj/chatrelay/pkg/upload"
)

// deps are the external collaborators main opens and tests replace.
type deps struct {
	store     store.Store
	presence  presence.Store
	publisher events.Publisher
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	d, err := openDeps(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open backing services")
	}
	defer closeDeps(d)

	a, err := newApp(cfg, d)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.svc.Bootstrap(ctx); err != nil {
		logging.Error().Err(err).Msg("channel bootstrap failed")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddMessagingService(supervisor.NewRunnerService("gateway-hub", a.hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("chat server starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("chat server stopped")
}

func openDeps(cfg *config.Config) (*deps, error) {
	d := &deps{}

	switch cfg.Store.Driver {
	case "scylla":
		session, err := db.Bootstrap(db.Options{Hosts: cfg.Scylla.Hosts, Keyspace: cfg.Scylla.Keyspace, Timeout: cfg.Scylla.Timeout})
		if err != nil {
			return nil, fmt.Errorf("scylla: %w", err)
		}
		d.store = store.NewScylla(session)
	default:
		logging.Warn().Msg("using in-memory store, data is lost on restart")
		d.store = store.NewMemory()
	}

	if cfg.Redis.Enabled {
		r := presence.NewRedis(cfg.Redis.Addr)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			_ = d.store.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.presence = r
	} else {
		d.presence = presence.NewMemory()
	}

	if cfg.Kafka.Enabled {
		d.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		d.publisher = events.Nop{}
	}
	return d, nil
}

func closeDeps(d *deps) {
	if err := d.publisher.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close event publisher")
	}
	if err := d.presence.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close presence store")
	}
	if err := d.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close store")
	}
}

// newApp wires the chat service, hub and gateway. The hub is created first
// because the service broadcasts through it.
func newApp(cfg *config.Config, d *deps) (*app, error) {
	ids, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	uploads, err := upload.NewDisk(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	hub := gateway.NewHub(d.presence)
	svc := chat.NewService(d.store, ids, chat.Options{
		DefaultChannels: cfg.Chat.DefaultChannels,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		BcryptCost:      cfg.Auth.BcryptCost,
		Rooms:           hub,
		Events:          d.publisher,
	})
	authn := auth.NewAuthenticator(auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), d.store)
	gw := gateway.New(hub, svc, authn, gateway.Options{
		Policy:         chat.AutoEnroll,
		SendBuffer:     cfg.Chat.SendBuffer,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	policy := chat.Strict
	if cfg.Chat.HTTPAutoEnroll {
		policy = chat.AutoEnroll
	}

	a := &app{
		cfg:        cfg,
		svc:        svc,
		authn:      authn,
		hub:        hub,
		gw:         gw,
		presence:   d.presence,
		uploads:    uploads,
		sendPolicy: policy,
	}
	if cfg.AI.Enabled {
		a.ai = assistant.New(assistant.Options{URL: cfg.AI.URL, Model: cfg.AI.Model, Timeout: cfg.AI.Timeout})
	}
	return a, nil
}
