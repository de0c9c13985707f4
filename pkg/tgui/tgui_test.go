package tgui

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestData(t *testing.T) {
	t.Parallel()
	if got := Data(" countdown ", "cancel", ""); got != "countdown:cancel" {
		t.Fatalf("Data = %q", got)
	}
	if got := Data("countdown", "show_time", "42"); got != "countdown:show_time:42" {
		t.Fatalf("Data = %q", got)
	}
	if _, err := CheckedData("countdown", "x", strings.Repeat("p", 60)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestInlineKeyboardRows(t *testing.T) {
	t.Parallel()
	kb := NewInline().
		Row(Btn("⏰ Настроить уведомления", Data("countdown", "setup_notifications", ""))).
		Row(Btn("⏰ Показать время", Data("countdown", "show_time", "")))
	rows := kb.Markup().InlineKeyboard
	if len(rows) != 2 || len(rows[0]) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[1][0].Data != "countdown:show_time" {
		t.Fatalf("data = %q", rows[1][0].Data)
	}
}

func TestReplyKeyboard(t *testing.T) {
	t.Parallel()
	kb := NewReply().Row("📅 Установить дату", "🔔 Уведомления").Row("🔙 Назад")
	rm := kb.Markup()
	if !rm.ResizeKeyboard || rm.OneTimeKeyboard {
		t.Fatalf("markup flags = %+v", rm)
	}
	if len(rm.ReplyKeyboard) != 2 || rm.ReplyKeyboard[1][0].Text != "🔙 Назад" {
		t.Fatalf("keyboard = %+v", rm.ReplyKeyboard)
	}
	labels := kb.Labels()
	if len(labels[0]) != 2 || labels[0][1] != "🔔 Уведомления" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestBuilderEscapesHTML(t *testing.T) {
	t.Parallel()
	msg := New().Title("📊", "Status <bot>").KV("users", "3 & more").Line("a<b").Build()
	want := "📊 <b>Status &lt;bot&gt;</b>\n• <b>users</b>: 3 &amp; more\na&lt;b"
	if msg.Text != want {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Opt.ParseMode != tele.ModeHTML || !msg.Opt.DisablePreview {
		t.Fatalf("opt = %+v", msg.Opt)
	}
}

func TestPlainBuilderWithKeyboard(t *testing.T) {
	t.Parallel()
	kb := NewReply().Row("⚙️ Настройки", "⏰ Оставшееся время")
	msg := Plain().Line("🤖 Главное меню").Blank().Line("Выберите действие:").Keyboard(kb).Build()
	if msg.Text != "🤖 Главное меню\n\nВыберите действие:" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Opt.ParseMode != "" || msg.Opt.ReplyMarkupAdapter != kb.Markup() {
		t.Fatalf("opt = %+v", msg.Opt)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"привет", 10, "привет"},
		{"привет", 3, "при…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
