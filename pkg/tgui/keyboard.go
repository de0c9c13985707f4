package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data. Build data with
// Data so it routes as "ns:action:payload".
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Reply is a builder for the persistent keyboard shown under the input
// field. Presses arrive as plain text messages carrying the button label.
type Reply struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

// NewReply returns a resized keyboard that stays open after a press.
func NewReply() *Reply {
	return &Reply{rm: &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: false}}
}

func (r *Reply) Row(labels ...string) *Reply {
	btns := make([]tele.Btn, 0, len(labels))
	for _, l := range labels {
		btns = append(btns, r.rm.Text(l))
	}
	r.rows = append(r.rows, r.rm.Row(btns...))
	r.rm.Reply(r.rows...)
	return r
}

func (r *Reply) Markup() *tele.ReplyMarkup { return r.rm }

// Labels returns the button texts row by row.
func (r *Reply) Labels() [][]string {
	out := make([][]string, 0, len(r.rows))
	for _, row := range r.rows {
		labels := make([]string, 0, len(row))
		for _, b := range row {
			labels = append(labels, b.Text)
		}
		out = append(out, labels)
	}
	return out
}
