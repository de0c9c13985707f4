package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	logx "countdownbot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit (
	id       BIGSERIAL PRIMARY KEY,
	at       BIGINT NOT NULL,
	user_id  BIGINT NOT NULL,
	username TEXT,
	chat_id  BIGINT NOT NULL,
	action   TEXT NOT NULL,
	target   TEXT NOT NULL DEFAULT '',
	ok       BOOLEAN NOT NULL DEFAULT FALSE,
	err      TEXT,
	took_ms  BIGINT NOT NULL DEFAULT 0,
	meta     TEXT
);
CREATE INDEX IF NOT EXISTS audit_at_idx ON audit(at);
CREATE TABLE IF NOT EXISTS dedup (
	key   TEXT PRIMARY KEY,
	until BIGINT NOT NULL
);
`

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st := newSQLStore(db, log)
	if err := st.migrate(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("storage opened")
	return st, nil
}
