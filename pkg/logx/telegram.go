package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	kit "countdownbot/internal/transport"
)

func (s *Service) telegramLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-s.tgQueue:
			if s.sender == nil {
				continue
			}
			_, _ = s.sender.SendText(ctx, ln.to, ln.text, &kit.SendOptions{DisablePreview: true})
		}
	}
}

// enqueue never blocks the logging call site; a full queue drops the line.
func (s *Service) enqueue(to kit.ChatTarget, text string) {
	select {
	case s.tgQueue <- telegramLine{to: to, text: text}:
	default:
	}
}

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	chatID, threadID := s.chatID, s.threadID
	lim, min := s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || s.sender == nil || lim == nil || level < min {
		return len(p), nil
	}
	if !lim.Allow() {
		return len(p), nil
	}
	if text := formatTelegramLine(p); text != "" {
		s.enqueue(kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text)
	}
	return len(p), nil
}

// formatTelegramLine renders one zerolog JSON line as "[LEVEL] msg" followed
// by "- key=value" lines in key order.
func formatTelegramLine(p []byte) string {
	raw := bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return truncate(string(raw), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
