package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "countdownbot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]func(t *testing.T) (Store, func() Store) {
	t.Helper()
	return map[string]func(t *testing.T) (Store, func() Store){
		"file":   reopenable(Config{Driver: "file"}, "bot.db"),
		"sqlite": reopenable(Config{Driver: "sqlite"}, "bot.sqlite"),
	}
}

// reopenable opens a store in a temp dir and returns a func that closes it
// and opens it again on the same path.
func reopenable(cfg Config, name string) func(t *testing.T) (Store, func() Store) {
	return func(t *testing.T) (Store, func() Store) {
		cfg := cfg
		cfg.Path = filepath.Join(t.TempDir(), name)
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		cur := st
		t.Cleanup(func() { _ = cur.Close() })
		return st, func() Store {
			_ = cur.Close()
			next, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			cur = next
			return next
		}
	}
}

func TestStoreDedupRoundTrip(t *testing.T) {
	t.Parallel()
	for name, open := range openTestStores(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, reopen := open(t)

			if _, ok, err := st.GetDedup(ctx, "missing"); err != nil || ok {
				t.Fatalf("GetDedup(missing) = ok=%v err=%v", ok, err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "notification_1", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			later := until.Add(time.Minute)
			if err := st.PutDedup(ctx, "notification_1", later); err != nil {
				t.Fatalf("PutDedup overwrite: %v", err)
			}

			st = reopen()
			got, ok, err := st.GetDedup(ctx, "notification_1")
			if err != nil || !ok || !got.Equal(later) {
				t.Fatalf("after reopen GetDedup = %v,%v,%v want %v", got, ok, err, later)
			}
		})
	}
}

func TestStoreAuditNewestFirst(t *testing.T) {
	t.Parallel()
	for name, open := range openTestStores(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := open(t)
			base := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
			for i, action := range []string{"date_set", "notification_set", "reminder_sent"} {
				e := AuditEntry{At: base.Add(time.Duration(i) * time.Minute), UserID: 42, ChatID: 42, Action: action, OK: true}
				if action == "reminder_sent" {
					e.OK = false
					e.Error = "blocked by user"
				}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}

			got, err := st.RecentAudit(ctx, 2)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].Action != "reminder_sent" || got[0].OK || got[0].Error != "blocked by user" {
				t.Fatalf("newest = %+v", got[0])
			}
			if got[1].Action != "notification_set" || !got[1].OK || got[1].UserID != 42 {
				t.Fatalf("second = %+v", got[1])
			}
			if !got[1].At.Equal(base.Add(time.Minute)) {
				t.Fatalf("at = %v", got[1].At)
			}
		})
	}
}

func TestFileStoreDropsExpiredDedupOnOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, reopen := reopenable(Config{Driver: "file"}, "bot.db")(t)
	if err := st.PutDedup(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	st = reopen()
	if _, ok, _ := st.GetDedup(ctx, "old"); ok {
		t.Fatal("expired key survived reopen")
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{Driver: "none"}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("none = %v,%v", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("postgres driver without dsn accepted")
	}
}

// TestPostgresStore runs against a real server when COUNTDOWNBOT_TEST_PG_DSN
// is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("COUNTDOWNBOT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("COUNTDOWNBOT_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	key := "test_" + time.Now().Format("150405.000000")
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, key, until); err != nil {
		t.Fatal(err)
	}
	got, ok, err := st.GetDedup(ctx, key)
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v,%v,%v", got, ok, err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{UserID: 1, Action: "test", OK: true}); err != nil {
		t.Fatal(err)
	}
	if rows, err := st.RecentAudit(ctx, 1); err != nil || len(rows) != 1 {
		t.Fatalf("RecentAudit = %v,%v", rows, err)
	}
}
