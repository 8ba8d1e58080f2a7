// Package db persists compareMS2 sessions in SurrealDB, over a WebSocket
// connection with auto-reconnect support.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/models"
)

func init() {
	// WebSocket upgrades fail when ALPN negotiates HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// ConfigFrom picks the SurrealDB settings out of the process configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
}

// auth returns the sign-in credentials for the configured auth level.
func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// baseURL returns the URL without the /rpc suffix, which gorillaws appends itself.
func (c Config) baseURL() string {
	return strings.TrimSuffix(c.URL, "/rpc")
}

// Client holds the session store connection.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	log  logger.Logger
}

// NewClient connects, signs in and selects the session database. The
// connection reconnects with exponential backoff when it drops.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())
	conn := dial(cfg, sdkLogger)

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	sdkLogger.Info("authenticating", "user", cfg.Username, "auth_level", cfg.AuthLevel)
	if _, err := db.SignIn(ctx, cfg.auth()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	sdkLogger.Info("session store connected", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, log: sdkLogger}, nil
}

// dial builds the reconnecting connection. CBOR goes through surrealcbor,
// which understands the SurrealDB tags.
func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     cfg.baseURL(),
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer
	return conn
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("closing session store connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the session table and its indexes.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.log.Info("session schema ready")
	return nil
}

// WipeData deletes all session records while preserving the schema.
// Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.log.Warn("wiping all sessions from database")
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE "+models.SessionTable, nil); err != nil {
		return fmt.Errorf("delete %s: %w", models.SessionTable, err)
	}
	return nil
}
