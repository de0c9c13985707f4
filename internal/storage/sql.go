package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	logx "countdownbot/pkg/logx"
)

// sqlStore is shared by the sqlite and postgres drivers. Queries are
// written with '?' and rebound to the driver's placeholder style.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// auditRow is the table shape; times are unix milliseconds in both dialects.
type auditRow struct {
	At       int64          `db:"at"`
	UserID   int64          `db:"user_id"`
	Username sql.NullString `db:"username"`
	ChatID   int64          `db:"chat_id"`
	Action   string         `db:"action"`
	Target   string         `db:"target"`
	OK       bool           `db:"ok"`
	Err      sql.NullString `db:"err"`
	TookMS   int64          `db:"took_ms"`
	Meta     sql.NullString `db:"meta"`
}

func newSQLStore(db *sqlx.DB, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log, pruneEvery: 500}
}

func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	row := auditRow{
		At:       e.At.UnixMilli(),
		UserID:   e.UserID,
		Username: nullStr(e.Username),
		ChatID:   e.ChatID,
		Action:   e.Action,
		Target:   e.Target,
		OK:       e.OK,
		Err:      nullStr(e.Error),
		TookMS:   e.TookMS,
		Meta:     nullStr(e.MetaJSON),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO audit(at, user_id, username, chat_id, action, target, ok, err, took_ms, meta)
		 VALUES(:at, :user_id, :username, :chat_id, :action, :target, :ok, :err, :took_ms, :meta)`,
		row,
	)
	return err
}

func (s *sqlStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var rows []auditRow
	q := s.db.Rebind(`SELECT at, user_id, username, chat_id, action, target, ok, err, took_ms, meta
		FROM audit ORDER BY at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, clampLimit(limit)); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditEntry{
			At:       time.UnixMilli(r.At),
			UserID:   r.UserID,
			Username: r.Username.String,
			ChatID:   r.ChatID,
			Action:   r.Action,
			Target:   r.Target,
			OK:       r.OK,
			Error:    r.Err.String,
			TookMS:   r.TookMS,
			MetaJSON: r.Meta.String,
		})
	}
	return out, nil
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	// ON CONFLICT ... excluded works in both SQLite and PostgreSQL.
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`),
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.GetContext(ctx, &ms, s.db.Rebind(`SELECT until FROM dedup WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM dedup WHERE until < ?`), time.Now().UnixMilli())
	return err
}

func nullStr(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
