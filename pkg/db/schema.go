package db

import (
	"fmt"
	"regexp"
)

// Tables lists every table the chat store owns, in creation order.
var Tables = []string{
	"users", "users_by_email", "users_by_username",
	"channels", "channels_by_name", "channel_members", "user_channels", "channel_counters",
	"messages", "messages_by_id",
	"unread_counters",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		username text,
		email text,
		password_hash text,
		is_online boolean,
		last_seen timestamp,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_username (
		username text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id text PRIMARY KEY,
		name text,
		description text,
		is_private boolean,
		created_by text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS channels_by_name (
		name text PRIMARY KEY,
		channel_id text
	)`,
	`CREATE TABLE IF NOT EXISTS channel_members (
		channel_id text,
		user_id text,
		role text,
		joined_at timestamp,
		PRIMARY KEY (channel_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_channels (
		user_id text,
		channel_id text,
		PRIMARY KEY (user_id, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channel_counters (
		channel_id text PRIMARY KEY,
		message_count counter
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		channel_id text,
		id bigint,
		user_id text,
		content text,
		message_type text,
		file_url text,
		file_name text,
		reactions text,
		is_edited boolean,
		edited_at timestamp,
		created_at timestamp,
		PRIMARY KEY (channel_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		channel_id text
	)`,
	`CREATE TABLE IF NOT EXISTS unread_counters (
		user_id text,
		channel_id text,
		unread_count counter,
		PRIMARY KEY (user_id, channel_id)
	)`,
}

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// CreateKeyspace must run on a session that is not bound to keyspace.
func CreateKeyspace(s *Session, keyspace string, replication int) error {
	if !keyspaceName.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace name %q", keyspace)
	}
	if replication < 1 {
		replication = 1
	}
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`, keyspace, replication)
	if err := s.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// ApplySchema creates all tables that do not exist yet.
func ApplySchema(s *Session) error {
	for i, stmt := range schema {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	return nil
}

// Bootstrap creates the keyspace through the system keyspace and then opens
// a session bound to it with the schema applied.
func Bootstrap(opts Options) (*Session, error) {
	sys, err := NewSession(Options{Hosts: opts.Hosts, Keyspace: "system", Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	err = CreateKeyspace(sys, opts.Keyspace, 1)
	sys.Close()
	if err != nil {
		return nil, err
	}

	session, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	if err := ApplySchema(session); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}
