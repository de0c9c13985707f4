package router

import (
	"sort"
	"strings"
	"unicode"

	kit "countdownbot/internal/transport"
)

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' || r == '-' || r == '/' || unicode.IsSpace(r) {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

// buildMenuCommands lists public commands first, then owner-only ones
// marked with a lock. Telegram accepts at most 100 entries.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	type entry struct {
		cmd   string
		desc  string
		owner bool
	}
	seen := map[string]bool{}
	entries := make([]entry, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		owner := c.Access == AccessOwnerOnly
		if owner {
			desc = "🔒 " + desc
		}
		if r := []rune(desc); len(r) > 256 {
			desc = string(r[:256])
		}
		entries = append(entries, entry{cmd: name, desc: desc, owner: owner})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return !entries[i].owner && entries[j].owner
	})

	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}
