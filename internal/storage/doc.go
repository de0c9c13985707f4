// Package storage is the bot's small persistence layer: an append-only
// audit trail of user actions and reminder deliveries, plus the notifier's
// dedup windows so a restart does not resend a reminder.
//
// Countdown dates and notification times are not persisted; they live in
// the in-memory state store.
//
// Drivers: "file" (JSON lines, no database), "sqlite" (modernc, pure Go)
// and "postgres" (lib/pq). Both SQL drivers go through sqlx.
package storage
