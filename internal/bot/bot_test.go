package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/state"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/transport/telegram/router"
	"countdownbot/internal/transport/transporttest"
	logx "countdownbot/pkg/logx"
)

type fakeReminders struct {
	mu        sync.Mutex
	scheduled map[int64]countdown.TimeOfDay
	err       error
}

func (f *fakeReminders) Schedule(userID int64, at countdown.TimeOfDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled[userID] = at
	return nil
}

func (f *fakeReminders) Unschedule(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, userID)
}

func (f *fakeReminders) get(userID int64) (countdown.TimeOfDay, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.scheduled[userID]
	return at, ok
}

type harness struct {
	t     *testing.T
	ad    *transporttest.Adapter
	store *state.Memory
	rem   *fakeReminders
	bot   *Bot
	bus   eventbus.Bus
	in    chan kit.Update
	now   time.Time
	loc   *time.Location
}

func newHarness(t *testing.T, owners ...int64) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	h := &harness{
		t:     t,
		ad:    transporttest.New(),
		store: state.NewMemory(),
		rem:   &fakeReminders{scheduled: map[int64]countdown.TimeOfDay{}},
		bus:   eventbus.New(),
		in:    make(chan kit.Update, 16),
		now:   time.Date(2030, 1, 1, 10, 0, 0, 0, loc),
		loc:   loc,
	}
	h.bot = New(Deps{
		Store:     h.store,
		Reminders: h.rem,
		Location:  loc,
		Bus:       h.bus,
		Log:       logx.Nop(),
		Now:       func() time.Time { return h.now },
		Status: func(context.Context) StatusReport {
			return StatusReport{Uptime: "1m", Users: 3}
		},
	})
	busy, forbidden := RouterTexts()
	m := router.NewCommandManager(logx.Nop(), h.ad, owners, router.WithWorkers(1), router.WithTexts(busy, forbidden))
	m.SetRegistry(h.bot.Registry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, h.in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// say sends text as user 1 and returns the bot's next reply.
func (h *harness) say(text string) transporttest.Sent {
	h.t.Helper()
	before := len(h.ad.Sent())
	h.in <- transporttest.Text(1, text)
	if !h.ad.WaitFor(2*time.Second, func(a *transporttest.Adapter) bool { return len(a.Sent()) > before }) {
		h.t.Fatalf("no reply to %q", text)
	}
	return h.ad.Sent()[before]
}

func (h *harness) press(msgID int, action string) transporttest.Edit {
	h.t.Helper()
	before := len(h.ad.Edits())
	h.in <- transporttest.Press(1, msgID, cbNamespace+":"+action)
	if !h.ad.WaitFor(2*time.Second, func(a *transporttest.Adapter) bool { return len(a.Edits()) > before }) {
		h.t.Fatalf("no edit for %q", action)
	}
	return h.ad.Edits()[before]
}

func inlineData(t *testing.T, s transporttest.Sent) []string {
	t.Helper()
	if s.Options == nil {
		t.Fatalf("reply %q has no markup", s.Text)
	}
	rm, ok := s.Options.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("reply %q has no markup", s.Text)
	}
	var out []string
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func replyLabels(t *testing.T, s transporttest.Sent) []string {
	t.Helper()
	rm, ok := s.Options.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("reply %q has no markup", s.Text)
	}
	var out []string
	for _, row := range rm.ReplyKeyboard {
		for _, b := range row {
			out = append(out, b.Text)
		}
	}
	return out
}

func TestStartShowsMainKeyboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := h.say("/start")
	if !strings.HasPrefix(r.Text, "🤖 Привет!") {
		t.Fatalf("text = %q", r.Text)
	}
	if got := strings.Join(replyLabels(t, r), "|"); got != btnSettings+"|"+btnTimeLeft {
		t.Fatalf("keyboard = %s", got)
	}
}

func TestSettingsAndBackKeyboards(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := h.say(btnSettings)
	if r.Text != textSettingsMenu {
		t.Fatalf("text = %q", r.Text)
	}
	if got := strings.Join(replyLabels(t, r), "|"); got != btnSetDate+"|"+btnNotifications+"|"+btnBack {
		t.Fatalf("keyboard = %s", got)
	}
	if r := h.say(btnBack); r.Text != textMainMenu {
		t.Fatalf("back = %q", r.Text)
	}
}

func TestSetDateDialog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()

	r := h.say("/set_date")
	if r.Text != textAskDate {
		t.Fatalf("prompt = %q", r.Text)
	}
	if d := inlineData(t, r); len(d) != 1 || d[0] != "countdown:cancel" {
		t.Fatalf("prompt buttons = %v", d)
	}

	// bad format keeps the dialog open
	if r := h.say("2030-12-25"); r.Text != textBadDate {
		t.Fatalf("bad format reply = %q", r.Text)
	}
	// today at midnight is not in the future
	if r := h.say("01.01.2030"); r.Text != textDateNotFuture {
		t.Fatalf("past reply = %q", r.Text)
	}
	r = h.say("25.12.2030")
	if !strings.HasPrefix(r.Text, "✅ Дата успешно установлена: 25.12.2030") {
		t.Fatalf("saved reply = %q", r.Text)
	}
	if d := inlineData(t, r); strings.Join(d, ",") != "countdown:setup_notifications,countdown:show_time" {
		t.Fatalf("after-date buttons = %v", d)
	}
	got, ok := h.store.Date(1)
	if !ok || !got.Equal(time.Date(2030, 12, 25, 0, 0, 0, 0, h.loc)) {
		t.Fatalf("stored = %v %v", got, ok)
	}

	select {
	case e := <-events:
		if e.Type != "dialog.date_set" || e.Data.(DialogEvent).Value != "25.12.2030" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no dialog.date_set event")
	}

	// dialog closed: free text is no longer a date
	if r := h.say("26.12.2030"); r.Text != textUnknownText {
		t.Fatalf("after dialog = %q", r.Text)
	}
}

func TestNotificationsRequireDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if r := h.say(btnNotifications); r.Text != textNeedDateFirst {
		t.Fatalf("reply = %q", r.Text)
	}
	if r := h.say("09:00"); r.Text != textUnknownText {
		t.Fatalf("dialog must not be open: %q", r.Text)
	}
}

func TestNotificationsDialogSchedulesAndDisables(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetDate(1, time.Date(2030, 12, 25, 0, 0, 0, 0, h.loc))

	r := h.say("/notifications")
	if !strings.Contains(r.Text, "Текущее время уведомлений: Не настроено") || !strings.Contains(r.Text, "московское время") {
		t.Fatalf("prompt = %q", r.Text)
	}
	if r := h.say("9:00"); !strings.HasPrefix(r.Text, "❌ Неверный формат времени!") {
		t.Fatalf("bad time reply = %q", r.Text)
	}
	r = h.say("09:30")
	if !strings.HasPrefix(r.Text, "✅ Уведомления настроены на 09:30 каждый день") || !strings.Contains(r.Text, "до 25.12.2030") {
		t.Fatalf("saved reply = %q", r.Text)
	}
	if at, ok := h.rem.get(1); !ok || at != (countdown.TimeOfDay{Hour: 9, Minute: 30}) {
		t.Fatalf("scheduled = %v %v", at, ok)
	}
	if at, ok := h.store.Notification(1); !ok || at.String() != "09:30" {
		t.Fatalf("stored = %v %v", at, ok)
	}

	r = h.say(btnNotifications)
	if !strings.Contains(r.Text, "Текущее время уведомлений: 09:30") {
		t.Fatalf("prompt = %q", r.Text)
	}
	if r := h.say("  Отключить "); r.Text != textDisabled {
		t.Fatalf("disable reply = %q", r.Text)
	}
	if h.store.HasNotification(1) {
		t.Fatal("notification still stored")
	}
	if _, ok := h.rem.get(1); ok {
		t.Fatal("job still scheduled after disable")
	}
}

func TestScheduleFailureRollsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.rem.err = errors.New("cron: bad spec")
	h.store.SetDate(1, time.Date(2030, 12, 25, 0, 0, 0, 0, h.loc))

	h.say("/notifications")
	if r := h.say("08:00"); r.Text != textScheduleFailed {
		t.Fatalf("reply = %q", r.Text)
	}
	if h.store.HasNotification(1) {
		t.Fatal("notification kept although scheduling failed")
	}
}

func TestTimeLeft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if r := h.say("/time_left"); r.Text != textNoDateCmd {
		t.Fatalf("no date (cmd) = %q", r.Text)
	}
	if r := h.say(btnTimeLeft); r.Text != textNoDateButton {
		t.Fatalf("no date (button) = %q", r.Text)
	}

	h.store.SetDate(1, time.Date(2030, 1, 3, 12, 30, 0, 0, h.loc))
	want := "📅 До 03.01.2030 осталось:\n\n🕐 2 дней, 2 часов, 30 минут" + textNotifyOffCmd
	if r := h.say("/time_left"); r.Text != want {
		t.Fatalf("time_left = %q", r.Text)
	}
	h.store.SetNotification(1, countdown.TimeOfDay{Hour: 7, Minute: 5})
	if r := h.say(btnTimeLeft); !strings.HasSuffix(r.Text, "🔔 Уведомления настроены на 07:05") {
		t.Fatalf("with notification = %q", r.Text)
	}

	h.store.SetDate(1, h.now)
	if r := h.say("/time_left"); r.Text != textPassedCmd {
		t.Fatalf("passed (cmd) = %q", r.Text)
	}
	if r := h.say(btnTimeLeft); r.Text != textPassedButton {
		t.Fatalf("passed (button) = %q", r.Text)
	}
}

func TestInlineCallbacksEndDialog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("/set_date")
	ref := len(h.ad.Sent()) // message ids are 1-based send counters

	e := h.press(ref, actCancel)
	if e.Text != textCancelled || e.Ref.MessageID != ref {
		t.Fatalf("edit = %+v", e)
	}
	if h.say("25.12.2030").Text != textUnknownText {
		t.Fatal("dialog survived cancel")
	}

	if e := h.press(ref, actShowTime); e.Text != textUseTimeLeft {
		t.Fatalf("show_time = %q", e.Text)
	}
	if e := h.press(ref, actSetupNotification); e.Text != textUseNotifications {
		t.Fatalf("setup_notifications = %q", e.Text)
	}
}

func TestCancelCommandAndUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say(btnSetDate)
	if r := h.say("/cancel"); r.Text != textCancelled {
		t.Fatalf("cancel = %q", r.Text)
	}
	if r := h.say("25.12.2030"); r.Text != textUnknownText {
		t.Fatalf("after cancel = %q", r.Text)
	}
	if r := h.say("/frobnicate"); r.Text != textUnknownCommand {
		t.Fatalf("unknown = %q", r.Text)
	}
}

func TestSettingsCommandSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if r := h.say("/settings"); r.Text != textNoDateButton {
		t.Fatalf("no date = %q", r.Text)
	}
	h.store.SetDate(1, time.Date(2030, 12, 25, 0, 0, 0, 0, h.loc))
	r := h.say("/settings")
	if !strings.Contains(r.Text, "📅 Установленная дата: 25.12.2030") || !strings.Contains(r.Text, "🔔 Уведомления: Не настроено") {
		t.Fatalf("summary = %q", r.Text)
	}
}

func TestStatusIsOwnerOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	r := h.say("/status")
	if !strings.Contains(r.Text, "<b>Countdown bot</b>") || r.Options.ParseMode != tele.ModeHTML {
		t.Fatalf("status = %q", r.Text)
	}

	stranger := newHarness(t)
	if r := stranger.say("/status"); r.Text != textForbidden {
		t.Fatalf("stranger = %q", r.Text)
	}
}

func TestDialogTTL(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	d := newDialogs(time.Minute, func() time.Time { return now })
	d.begin(7, stageWaitDate)
	if d.current(7) != stageWaitDate {
		t.Fatal("dialog not open")
	}
	now = now.Add(2 * time.Minute)
	if d.current(7) != stageIdle || d.open() != 0 {
		t.Fatal("expired dialog still open")
	}
}
