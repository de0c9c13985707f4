package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "countdownbot/internal/transport"
)

// Message is a rendered UI payload: text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles a message line by line.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	parseMode      string
	disablePreview bool
	rm             *tele.ReplyMarkup
	lines          []string
}

func New() *Builder {
	return &Builder{parseMode: tele.ModeHTML, disablePreview: true}
}

// Plain switches the builder to unformatted text.
func Plain() *Builder {
	return &Builder{disablePreview: true}
}

func (b *Builder) html() bool { return strings.EqualFold(b.parseMode, tele.ModeHTML) }

func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

func (b *Builder) Keyboard(kb *Reply) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

// Title adds a title line; bold in HTML mode. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if b.html() {
		t = B(t).String()
	}
	if e := strings.TrimSpace(emoji); e != "" {
		t = e + " " + t
	}
	b.lines = append(b.lines, t)
	return b
}

// Line adds a line, escaped in HTML mode.
func (b *Builder) Line(s string) *Builder {
	if b.html() {
		s = Esc(s).String()
	}
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds a "• key: value" row.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	value = strings.TrimSpace(value)
	if b.html() {
		b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(value).String())
		return b
	}
	b.lines = append(b.lines, "• "+key+": "+value)
	return b
}

func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := &kit.SendOptions{ParseMode: b.parseMode, DisablePreview: b.disablePreview}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: text, Opt: opt}
}
