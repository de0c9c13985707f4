package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"countdownbot/internal/bot"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/notifier"
	"countdownbot/internal/reminder"
	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

// auditEntryFor maps the bus events worth keeping to journal entries.
func auditEntryFor(e eventbus.Event) (storage.AuditEntry, bool) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch ev := e.Data.(type) {
	case bot.DialogEvent:
		if !eventbus.HasPrefix(e, "dialog") {
			return storage.AuditEntry{}, false
		}
		out := storage.AuditEntry{
			At:       at,
			UserID:   ev.UserID,
			Username: ev.Username,
			ChatID:   ev.ChatID,
			Action:   strings.TrimPrefix(e.Type, "dialog."),
			Target:   ev.Value,
			OK:       true,
		}
		if ev.ReqID != "" {
			out.MetaJSON = metaJSON(map[string]string{"req_id": ev.ReqID})
		}
		return out, true
	case reminder.Event:
		return storage.AuditEntry{
			At:     at,
			UserID: ev.UserID,
			ChatID: ev.UserID,
			Action: strings.ReplaceAll(e.Type, ".", "_"),
			Target: ev.Job,
			OK:     ev.Error == "",
			Error:  ev.Error,
		}, true
	case notifier.NotificationEvent:
		if e.Type != "notifier.failed" && e.Type != "notifier.dropped" {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:       at,
			UserID:   ev.ChatID,
			ChatID:   ev.ChatID,
			Action:   strings.ReplaceAll(e.Type, ".", "_"),
			Target:   ev.Channel,
			Error:    ev.Error,
			MetaJSON: metaJSON(map[string]string{"key": ev.Key}),
		}, true
	}
	return storage.AuditEntry{}, false
}

func metaJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// eventLoop logs every bus event at debug level and journals the ones
// auditEntryFor accepts.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if a.store == nil {
				continue
			}
			entry, ok := auditEntryFor(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := a.store.AppendAudit(wctx, entry); err != nil {
				a.log.Warn("audit append failed", logx.String("action", entry.Action), logx.Err(err))
			}
			cancel()
		}
	}
}
