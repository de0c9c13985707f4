package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"countdownbot/internal/countdown"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
	"countdownbot/pkg/tgui"
)

func send(ctx context.Context, req *router.Request, m tgui.Message) error {
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func plain(ctx context.Context, req *router.Request, text string) error {
	return req.Reply(ctx, text, nil)
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	b.dialogs.end(req.FromID)
	return send(ctx, req, tgui.Plain().Line(textWelcome).Keyboard(mainKeyboard()).Build())
}

func (b *Bot) handleHelp(ctx context.Context, req *router.Request) error {
	return plain(ctx, req, textHelp)
}

func (b *Bot) handleBack(ctx context.Context, req *router.Request) error {
	return send(ctx, req, tgui.Plain().Line(textMainMenu).Keyboard(mainKeyboard()).Build())
}

func (b *Bot) handleSettingsButton(ctx context.Context, req *router.Request) error {
	return send(ctx, req, tgui.Plain().Line(textSettingsMenu).Keyboard(settingsKeyboard()).Build())
}

// handleSettingsCommand shows the user's current date and reminder along
// with the settings keyboard.
func (b *Bot) handleSettingsCommand(ctx context.Context, req *router.Request) error {
	target, ok := b.store.Date(req.FromID)
	if !ok {
		return send(ctx, req, tgui.Plain().Line(textNoDateButton).Keyboard(settingsKeyboard()).Build())
	}
	notif := textNotConfigured
	if at, ok := b.store.Notification(req.FromID); ok {
		notif = at.String()
	}
	msg := tgui.Plain().
		Line("⚙️ Настройки").
		Blank().
		Line("📅 Установленная дата: " + countdown.FormatDate(target)).
		Line("🔔 Уведомления: " + notif).
		Blank().
		Line("Используйте кнопки клавиатуры для управления:").
		Bullets(btnSetDate+" - изменить дату", btnNotifications+" - настроить уведомления").
		Keyboard(settingsKeyboard()).
		Build()
	return send(ctx, req, msg)
}

func (b *Bot) handleSetDate(ctx context.Context, req *router.Request) error {
	b.dialogs.begin(req.FromID, stageWaitDate)
	return send(ctx, req, tgui.Plain().Line(textAskDate).Inline(cancelInline()).Build())
}

func (b *Bot) handleNotifications(ctx context.Context, req *router.Request) error {
	if !b.store.HasDate(req.FromID) {
		b.dialogs.end(req.FromID)
		return plain(ctx, req, textNeedDateFirst)
	}
	current := textNotConfigured
	if at, ok := b.store.Notification(req.FromID); ok {
		current = at.String()
	}
	b.dialogs.begin(req.FromID, stageWaitTime)
	text := fmt.Sprintf(textAskTime, current, zoneLabel(b.loc))
	return send(ctx, req, tgui.Plain().Line(text).Inline(cancelInline()).Build())
}

func (b *Bot) handleCancel(ctx context.Context, req *router.Request) error {
	b.dialogs.end(req.FromID)
	return plain(ctx, req, textCancelled)
}

func (b *Bot) handleTimeLeftCommand(ctx context.Context, req *router.Request) error {
	return plain(ctx, req, b.timeLeft(req.FromID, false))
}

func (b *Bot) handleTimeLeftButton(ctx context.Context, req *router.Request) error {
	return plain(ctx, req, b.timeLeft(req.FromID, true))
}

// timeLeft renders the on-demand countdown. Replies to a keyboard press
// point at buttons rather than commands.
func (b *Bot) timeLeft(userID int64, viaButton bool) string {
	target, ok := b.store.Date(userID)
	if !ok {
		if viaButton {
			return textNoDateButton
		}
		return textNoDateCmd
	}
	now := b.now()
	if countdown.IsPassed(target, now) {
		if viaButton {
			return textPassedButton
		}
		return textPassedCmd
	}
	text := countdown.Describe(now, target)
	switch at, ok := b.store.Notification(userID); {
	case ok:
		text += fmt.Sprintf(textNotifyOn, at.String())
	case viaButton:
		text += textNotifyOffButton
	default:
		text += textNotifyOffCmd
	}
	return text
}

// handleText receives everything no command or button claimed: answers to
// an open dialog, unknown commands and stray text.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	if strings.HasPrefix(req.Command, "unknown:") {
		return plain(ctx, req, textUnknownCommand)
	}
	switch b.dialogs.current(req.FromID) {
	case stageWaitDate:
		return b.processDate(ctx, req)
	case stageWaitTime:
		return b.processTime(ctx, req)
	}
	return plain(ctx, req, textUnknownText)
}

func (b *Bot) processDate(ctx context.Context, req *router.Request) error {
	target, err := countdown.ParseDate(req.Text, b.loc)
	if err != nil {
		return send(ctx, req, tgui.Plain().Line(textBadDate).Inline(cancelInline()).Build())
	}
	if !countdown.IsInFuture(target, b.now()) {
		return send(ctx, req, tgui.Plain().Line(textDateNotFuture).Inline(cancelInline()).Build())
	}

	b.store.SetDate(req.FromID, target)
	b.dialogs.end(req.FromID)
	req.Logger.Info("target date set", logx.String("date", countdown.FormatDate(target)))
	b.publish("dialog.date_set", DialogEvent{
		UserID:   req.FromID,
		Username: req.Username,
		ChatID:   req.Chat.ChatID,
		Value:    countdown.FormatDate(target),
		ReqID:    req.ReqID,
	})

	text := fmt.Sprintf(textDateSaved, countdown.FormatDate(target))
	return send(ctx, req, tgui.Plain().Line(text).Inline(afterDateInline()).Build())
}

func (b *Bot) processTime(ctx context.Context, req *router.Request) error {
	input := strings.ToLower(strings.TrimSpace(req.Text))
	ev := DialogEvent{UserID: req.FromID, Username: req.Username, ChatID: req.Chat.ChatID, ReqID: req.ReqID}

	if input == disableWord {
		b.reminders.Unschedule(req.FromID)
		b.store.RemoveNotification(req.FromID)
		b.dialogs.end(req.FromID)
		req.Logger.Info("notifications disabled")
		b.publish("dialog.notification_disabled", ev)
		return plain(ctx, req, textDisabled)
	}

	at, err := countdown.ParseTimeOfDay(input)
	if err != nil {
		text := fmt.Sprintf(textBadTime, zoneLabel(b.loc))
		return send(ctx, req, tgui.Plain().Line(text).Inline(cancelInline()).Build())
	}

	// the date may have been cleared since the dialog opened
	target, ok := b.store.Date(req.FromID)
	if !ok {
		b.dialogs.end(req.FromID)
		return plain(ctx, req, textNeedDateFirst)
	}

	b.store.SetNotification(req.FromID, at)
	if err := b.reminders.Schedule(req.FromID, at); err != nil {
		b.store.RemoveNotification(req.FromID)
		b.dialogs.end(req.FromID)
		return errors.Join(fmt.Errorf("schedule reminder: %w", err), plain(ctx, req, textScheduleFailed))
	}
	b.dialogs.end(req.FromID)
	req.Logger.Info("notifications set", logx.String("at", at.String()))
	ev.Value = at.String()
	b.publish("dialog.notification_set", ev)

	text := fmt.Sprintf(textTimeSaved, at.String(), zoneLabel(b.loc), countdown.FormatDate(target))
	return plain(ctx, req, text)
}

func (b *Bot) callbackCancel(ctx context.Context, req *router.Request, _ string) error {
	b.dialogs.end(req.FromID)
	return req.EditOrigin(ctx, textCancelled, nil)
}

func (b *Bot) callbackShowTime(ctx context.Context, req *router.Request, _ string) error {
	b.dialogs.end(req.FromID)
	return req.EditOrigin(ctx, textUseTimeLeft, nil)
}

func (b *Bot) callbackSetupNotifications(ctx context.Context, req *router.Request, _ string) error {
	b.dialogs.end(req.FromID)
	return req.EditOrigin(ctx, textUseNotifications, nil)
}
