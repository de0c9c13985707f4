package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"countdownbot/internal/notifier"
	"countdownbot/internal/storage"
	"countdownbot/internal/task/scheduler"
	"countdownbot/internal/transport/telegram/router"
	"countdownbot/pkg/tgui"
)

// StatusReport is the runtime snapshot shown by /status and served by the
// ops endpoint.
type StatusReport struct {
	StartedAt        time.Time            `json:"started_at"`
	Uptime           string               `json:"uptime"`
	Users            int                  `json:"users"`
	WithDate         int                  `json:"with_date"`
	WithNotification int                  `json:"with_notification"`
	OpenDialogs      int                  `json:"open_dialogs"`
	Scheduler        scheduler.Snapshot   `json:"scheduler"`
	Notifier         notifier.Stats       `json:"notifier"`
	Router           router.Stats         `json:"router"`
	RecentAudit      []storage.AuditEntry `json:"recent_audit,omitempty"`
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	if b.status == nil {
		return plain(ctx, req, "status unavailable")
	}
	return send(ctx, req, renderStatus(b.status(ctx)))
}

func renderStatus(r StatusReport) tgui.Message {
	tb := tgui.New().
		Title("📊", "Countdown bot").
		KV("uptime", r.Uptime).
		KV("users", fmt.Sprintf("%d (date %d, reminders %d)", r.Users, r.WithDate, r.WithNotification)).
		KV("open dialogs", strconv.Itoa(r.OpenDialogs)).
		Blank().
		Title("⏰", "Scheduler").
		KV("running", strconv.FormatBool(r.Scheduler.Running)).
		KV("timezone", r.Scheduler.Timezone).
		KV("jobs", strconv.Itoa(len(r.Scheduler.Schedules))).
		Blank().
		Title("📨", "Notifier").
		KV("sent", strconv.FormatUint(r.Notifier.Sent, 10)).
		KV("failed", strconv.FormatUint(r.Notifier.Failed, 10)).
		KV("deduped", strconv.FormatUint(r.Notifier.Deduped, 10)).
		KV("pending", strconv.Itoa(r.Notifier.Pending)).
		Blank().
		Title("🧭", "Router").
		KV("handled", strconv.FormatUint(r.Router.Handled, 10)).
		KV("busy", strconv.FormatUint(r.Router.Busy, 10)).
		KV("rejected", strconv.FormatUint(r.Router.Rejected, 10))

	if len(r.RecentAudit) > 0 {
		tb.Blank().Title("🗒", "Recent")
		for _, e := range r.RecentAudit {
			mark := "✅"
			if !e.OK {
				mark = "❌"
			}
			line := fmt.Sprintf("%s %s %s user=%d %s", mark, e.At.Format("02.01 15:04"), e.Action, e.UserID, e.Target)
			tb.Line(tgui.TruncRunes(line, 80))
		}
	}
	return tb.Build()
}
