package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/chatrelay/pkg/logging"
)

type Session struct {
	*gocql.Session
}

type Options struct {
	Hosts    []string
	Keyspace string
	Timeout  time.Duration
}

func NewSession(opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Keyspace = opts.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v/%s: %w", opts.Hosts, opts.Keyspace, err)
	}

	logging.Info().Strs("hosts", opts.Hosts).Str("keyspace", opts.Keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}
