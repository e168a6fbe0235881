// Package repository implements the save repositories: SQL tables through
// sqlx, an in-memory variant and a circuit-breaker decorator.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/save"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the configured SQL database and applies the schema when
// AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, save.WrapError(save.ErrUnavailable, "failed to open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.Driver == "sqlite" {
		// one connection keeps in-memory databases shared and serializes writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, save.WrapError(save.ErrUnavailable, "failed to reach database", err)
	}
	if cfg.Driver == "sqlite" {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, save.WrapError(save.ErrInternal, "failed to enable foreign keys", err)
		}
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := SeedAccounts(ctx, db, cfg.Accounts...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		username VARCHAR(255) PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS save_metadata (
		save_id    VARCHAR(64) PRIMARY KEY,
		owner      VARCHAR(255) NOT NULL,
		nickname   VARCHAR(64) UNIQUE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_save_metadata_owner ON save_metadata (owner)`,
	`CREATE TABLE IF NOT EXISTS save_characteristics (
		save_id     VARCHAR(64) PRIMARY KEY REFERENCES save_metadata (save_id) ON DELETE CASCADE,
		attack      BIGINT NOT NULL DEFAULT 0,
		crit_chance BIGINT NOT NULL DEFAULT 0,
		crit_damage BIGINT NOT NULL DEFAULT 0,
		health      BIGINT NOT NULL DEFAULT 0,
		resistance  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS save_currency (
		save_id  VARCHAR(64) PRIMARY KEY REFERENCES save_metadata (save_id) ON DELETE CASCADE,
		gold     BIGINT NOT NULL DEFAULT 0,
		diamond  BIGINT NOT NULL DEFAULT 0,
		emerald  BIGINT NOT NULL DEFAULT 0,
		amethyst BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS save_stage (
		save_id       VARCHAR(64) PRIMARY KEY REFERENCES save_metadata (save_id) ON DELETE CASCADE,
		current_stage BIGINT NOT NULL DEFAULT 0,
		max_stage     BIGINT NOT NULL DEFAULT 0,
		wave          BIGINT NOT NULL DEFAULT 0
	)`,
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return save.WrapError(save.ErrInternal, "failed to apply schema", err)
		}
	}
	return nil
}

// SeedAccounts inserts account identities, ignoring existing ones.
func SeedAccounts(ctx context.Context, db *sqlx.DB, usernames ...string) error {
	q := db.Rebind(`INSERT INTO accounts (username) VALUES (?) ON CONFLICT DO NOTHING`)
	for _, u := range usernames {
		if _, err := db.ExecContext(ctx, q, u); err != nil {
			return mapError(err, "seed account")
		}
	}
	return nil
}

// mapError converts driver errors into coded save errors.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return save.WrapError(save.ErrNotFound, op+": row not found", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return save.WrapError(save.ErrAlreadyExists, op+": duplicate key", err)
		case "23503":
			return save.WrapError(save.ErrNotFound, op+": parent save missing", err)
		}
		return save.WrapError(save.ErrInternal, op+" failed", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return save.WrapError(save.ErrAlreadyExists, op+": duplicate key", err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return save.WrapError(save.ErrNotFound, op+": parent save missing", err)
	}
	return save.WrapError(save.ErrInternal, fmt.Sprintf("%s failed", op), err)
}
