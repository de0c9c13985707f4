// Package bot is the conversation layer of the countdown bot: commands,
// keyboard buttons and the two short dialogs that collect a target date and
// a daily reminder time. It writes the user state store and drives the
// reminder service; everything it says goes through the router's adapter.
package bot

import (
	"context"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/state"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
)

// Reminders is the part of the reminder service the dialogs drive.
type Reminders interface {
	Schedule(userID int64, at countdown.TimeOfDay) error
	Unschedule(userID int64)
}

// StatusSource renders the owner /status report.
type StatusSource func(ctx context.Context) StatusReport

// DialogEvent is published as dialog.date_set, dialog.notification_set or
// dialog.notification_disabled.
type DialogEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	ChatID   int64  `json:"chat_id"`
	Value    string `json:"value,omitempty"`
	ReqID    string `json:"req_id,omitempty"`
}

type Deps struct {
	Store     state.Store
	Reminders Reminders
	Location  *time.Location
	Bus       eventbus.Bus
	Log       logx.Logger
	Status    StatusSource

	// Now defaults to time.Now.
	Now func() time.Time
	// DialogTTL forgets an unanswered question; 0 keeps it forever.
	DialogTTL time.Duration
	// HandlerTimeout bounds one handler call.
	HandlerTimeout time.Duration
}

type Bot struct {
	store     state.Store
	reminders Reminders
	loc       *time.Location
	bus       eventbus.Bus
	log       logx.Logger
	status    StatusSource
	now       func() time.Time
	timeout   time.Duration

	dialogs *dialogs
}

func New(d Deps) *Bot {
	b := &Bot{
		store:     d.Store,
		reminders: d.Reminders,
		loc:       d.Location,
		bus:       d.Bus,
		log:       d.Log,
		status:    d.Status,
		now:       d.Now,
		timeout:   d.HandlerTimeout,
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.timeout <= 0 {
		b.timeout = 15 * time.Second
	}
	b.dialogs = newDialogs(d.DialogTTL, b.now)
	return b
}

// OpenDialogs is the number of users with an unanswered question.
func (b *Bot) OpenDialogs() int { return b.dialogs.open() }

// RouterTexts are the router's busy and forbidden replies.
func RouterTexts() (busy, forbidden string) { return textBusy, textForbidden }

// Registry is the bot's complete routing table.
func (b *Bot) Registry() router.Registry {
	t := b.timeout
	return router.Registry{
		Commands: []router.Command{
			{Name: "start", Description: "Главное меню", Timeout: t, Handle: b.handleStart},
			{Name: "help", Description: "Справка", Timeout: t, Handle: b.handleHelp},
			{Name: "set_date", Description: "Установить дату для отсчета", Timeout: t, Handle: b.handleSetDate},
			{Name: "time_left", Description: "Показать оставшееся время", Timeout: t, Handle: b.handleTimeLeftCommand},
			{Name: "notifications", Description: "Настроить уведомления", Timeout: t, Handle: b.handleNotifications},
			{Name: "settings", Description: "Текущие настройки", Timeout: t, Handle: b.handleSettingsCommand},
			{Name: "cancel", Description: "Отменить ввод", Timeout: t, Handle: b.handleCancel},
			{Name: "status", Description: "Состояние бота", Access: router.AccessOwnerOnly, Timeout: t, Handle: b.handleStatus},
		},
		Buttons: []router.Button{
			{Text: btnSettings, Timeout: t, Handle: b.handleSettingsButton},
			{Text: btnTimeLeft, Timeout: t, Handle: b.handleTimeLeftButton},
			{Text: btnBack, Timeout: t, Handle: b.handleBack},
			{Text: btnSetDate, Timeout: t, Handle: b.handleSetDate},
			{Text: btnNotifications, Timeout: t, Handle: b.handleNotifications},
		},
		Callbacks: []router.CallbackRoute{
			{Namespace: cbNamespace, Action: actCancel, Timeout: t, Handle: b.callbackCancel},
			{Namespace: cbNamespace, Action: actShowTime, Timeout: t, Handle: b.callbackShowTime},
			{Namespace: cbNamespace, Action: actSetupNotification, Timeout: t, Handle: b.callbackSetupNotifications},
		},
		Fallback: b.handleText,
	}
}

func (b *Bot) publish(typ string, ev DialogEvent) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func zoneLabel(loc *time.Location) string {
	if loc.String() == "Europe/Moscow" {
		return "московское время"
	}
	return "часовой пояс " + loc.String()
}
