package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nybots/iptv-hub/internal/playlist"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres stores the playlist in a PostgreSQL database so the web and bot
// processes can share one snapshot.
type Postgres struct {
	dbpool dbPool
}

type pgOptions struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// PGOptions represents an optional function to override Postgres default values.
type PGOptions func(*pgOptions)

// NewPostgres creates a store with a PostgreSQL connection pool using the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func NewPostgres(ctx context.Context, cfg Config, args ...PGOptions) (*Postgres, error) {
	opts := pgOptions{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Postgres{dbpool: dbpool}, nil
}

// Replace swaps the stored playlist in a single transaction.
func (db *Postgres) Replace(ctx context.Context, snapshot *playlist.Snapshot) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}
	if snapshot == nil {
		snapshot = playlist.NewSnapshot(nil)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := db.dbpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("failed to clear channels: %v", err)
	}

	rows := make([][]any, 0, snapshot.Count())
	for _, ch := range snapshot.Channels {
		rows = append(rows, []any{ch.ID, ch.Name, ch.Logo, ch.Category, ch.URL, time.Now()})
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"channels"},
		[]string{"position", "name", "logo", "category", "url", "entry_time"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("failed to insert channels: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

// Snapshot rebuilds the playlist snapshot from the stored rows.
func (db *Postgres) Snapshot(ctx context.Context) (*playlist.Snapshot, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := db.dbpool.Query(ctx,
		`SELECT position, name, logo, category, url FROM channels ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %v", err)
	}
	defer rows.Close()

	var channels []playlist.Channel
	for rows.Next() {
		var ch playlist.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Logo, &ch.Category, &ch.URL); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %v", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel rows: %v", err)
	}

	return playlist.NewSnapshot(channels), nil
}

// Channel returns the channel with the given ID.
func (db *Postgres) Channel(ctx context.Context, id int) (playlist.Channel, error) {
	if db.dbpool == nil {
		return playlist.Channel{}, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var ch playlist.Channel
	err := db.dbpool.QueryRow(ctx,
		`SELECT position, name, logo, category, url FROM channels WHERE position = $1`, id).
		Scan(&ch.ID, &ch.Name, &ch.Logo, &ch.Category, &ch.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return playlist.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return playlist.Channel{}, fmt.Errorf("failed to query channel: %v", err)
	}
	return ch, nil
}

// Count returns the number of channels currently stored.
func (db *Postgres) Count(ctx context.Context) (int, error) {
	if db.dbpool == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var count int
	if err := db.dbpool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count channels: %v", err)
	}
	return count, nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Postgres) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
