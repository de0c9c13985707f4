package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"countdownbot/internal/storage"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

// dedupKey prefers the caller's key and otherwise hashes target and text.
func dedupKey(n kit.Notification) string {
	if n.DedupKey != "" {
		return n.DedupKey
	}
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d:%d|", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check covers a restart inside the window.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	pruneDedup(s.dedup, now, maxEntries)
	s.dmu.Unlock()

	if persist && st != nil {
		if pch != nil {
			select {
			case pch <- dedupWrite{key: key, until: until}:
			default:
			}
		} else {
			// inline mode has no persist loop
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			_ = st.PutDedup(cctx, key, until)
			cancel()
		}
	}
	return true
}

// pruneDedup drops expired keys, then the earliest-expiring ones until the
// map fits maxEntries.
func pruneDedup(m map[string]time.Time, now time.Time, maxEntries int) {
	for k, until := range m {
		if !now.Before(until) {
			delete(m, k)
		}
	}
	for maxEntries > 0 && len(m) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range m {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(m, minKey)
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
