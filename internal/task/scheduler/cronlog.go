package scheduler

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	logx "countdownbot/pkg/logx"
)

type cronLogger struct {
	log logx.Logger
}

// CronLogger adapts a logx.Logger to cron.Logger. cron passes key/value
// pairs after the message, the same convention logr uses.
func CronLogger(log logx.Logger) cron.Logger {
	return cronLogger{log: log}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	// cron reports every wake/run at Info; that is trace noise for us.
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, logx.Any("extra", kv[len(kv)-1]))
	}
	return out
}

func sortSchedules(items []ScheduleInfo) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
