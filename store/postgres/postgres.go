// Package postgres provides a PostgreSQL-backed pos.Store over pgx.
//
// Every atomic unit runs SERIALIZABLE and locks the product and sale rows
// it touches with SELECT ... FOR UPDATE. Serialization failures, deadlocks
// and lock timeouts surface as pos.ErrConflict so the engine can retry.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/pos-engine/store/sqlstore"
)

// SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// Dialect is the sqlstore dialect for PostgreSQL.
var Dialect = sqlstore.Dialect{
	Name:                 "pgx",
	SeqColumn:            "seq BIGSERIAL PRIMARY KEY",
	NumberedPlaceholders: true,
	TxOptions:            &sql.TxOptions{Isolation: sql.LevelSerializable},
	ForUpdate:            " FOR UPDATE",
	IsConflict:           isConflict,
	IsUniqueViolation:    isUniqueViolation,
}

// New connects to databaseURL, checks the connection and migrates the schema.
func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isConflict(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}
