package bot

import "countdownbot/pkg/tgui"

// Reply-keyboard labels. Presses arrive as these exact texts.
const (
	btnSettings      = "⚙️ Настройки"
	btnTimeLeft      = "⏰ Оставшееся время"
	btnBack          = "🔙 Назад"
	btnSetDate       = "📅 Установить дату"
	btnNotifications = "🔔 Уведомления"
)

// Inline callback namespace and actions.
const (
	cbNamespace          = "countdown"
	actCancel            = "cancel"
	actShowTime          = "show_time"
	actSetupNotification = "setup_notifications"
)

// disableWord turns notifications off in the time dialog.
const disableWord = "отключить"

const (
	textWelcome = "🤖 Привет! Я бот для отсчета времени до важных дат.\n\n" +
		"📅 Доступные команды:\n" +
		"/set_date - Установить дату для отсчета\n" +
		"/time_left - Показать оставшееся время\n" +
		"/notifications - Настроить уведомления\n" +
		"/help - Показать справку\n\n" +
		"Выберите действие:"

	textHelp = "📋 Справка по использованию бота:\n\n" +
		"1️⃣ /set_date - Установить дату для отсчета\n" +
		"   Бот попросит ввести дату в формате ДД.ММ.ГГГГ\n" +
		"   Например: 25.12.2024\n\n" +
		"2️⃣ /time_left - Показать оставшееся время\n" +
		"   Показывает сколько дней и часов осталось до установленной даты\n\n" +
		"3️⃣ /notifications - Настроить уведомления\n" +
		"   Установить время ежедневных уведомлений (например: 09:00)\n" +
		"   Или отключить уведомления\n\n" +
		"4️⃣ /help - Показать эту справку\n\n" +
		"⚙️ /settings - Текущие настройки\n" +
		"❌ /cancel - Отменить ввод\n\n" +
		"💡 Совет: Установите дату с помощью /set_date, а затем настройте уведомления!"

	textMainMenu     = "🤖 Главное меню\n\nВыберите действие:"
	textSettingsMenu = "⚙️ Настройки\n\nВыберите действие:"

	textAskDate = "📅 Введите дату в формате ДД.ММ.ГГГГ\n" +
		"Например: 25.12.2024\n\n" +
		"Или нажмите кнопку для отмены:"
	textBadDate = "❌ Неверный формат даты! Используйте формат ДД.ММ.ГГГГ\n" +
		"Например: 25.12.2024\n\n" +
		"Попробуйте еще раз или нажмите отмену:"
	textDateNotFuture = "❌ Дата должна быть в будущем! Попробуйте еще раз или нажмите отмену:"
	textDateSaved     = "✅ Дата успешно установлена: %s\n\n" +
		"Теперь используйте команду /time_left чтобы узнать оставшееся время!\n" +
		"Или настройте уведомления для ежедневных напоминаний."

	textNeedDateFirst = "❌ Сначала установите дату с помощью команды /set_date!"
	textAskTime       = "🔔 Настройка уведомлений\n\n" +
		"Текущее время уведомлений: %s\n\n" +
		"Введите время для ежедневных уведомлений в формате ЧЧ:ММ (%s)\n" +
		"Например: 09:00 или 18:30\n\n" +
		"Или введите '" + disableWord + "' чтобы отключить уведомления:"
	textNotConfigured = "Не настроено"
	textBadTime       = "❌ Неверный формат времени! Используйте формат ЧЧ:ММ (%s)\n" +
		"Например: 09:00 или 18:30\n\n" +
		"Попробуйте еще раз или нажмите отмену:"
	textTimeSaved = "✅ Уведомления настроены на %s каждый день (%s)!\n\n" +
		"Бот будет присылать вам оставшееся время до %s в это время."
	textScheduleFailed = "⚠️ Не удалось настроить уведомления. Попробуйте позже."
	textDisabled       = "🔕 Уведомления отключены!"

	textCancelled = "❌ Операция отменена."

	textUseTimeLeft      = "⏰ Используйте команду /time_left для просмотра оставшегося времени!"
	textUseNotifications = "🔔 Используйте команду /notifications для настройки уведомлений!"

	textNoDateCmd    = "❌ Дата не установлена!\n\nСначала установите дату с помощью команды /set_date"
	textNoDateButton = "❌ Дата не установлена!\n\nСначала установите дату с помощью кнопки '" + btnSetDate + "'"
	textPassedCmd    = "🎉 Установленная дата уже наступила!\n\nУстановите новую дату с помощью /set_date"
	textPassedButton = "🎉 Установленная дата уже наступила!\n\nУстановите новую дату с помощью кнопки '" + btnSetDate + "'"

	textNotifyOn        = "\n\n🔔 Уведомления настроены на %s"
	textNotifyOffCmd    = "\n\n🔕 Уведомления не настроены. Используйте /notifications для настройки."
	textNotifyOffButton = "\n\n🔕 Уведомления не настроены. Используйте кнопку '" + btnNotifications + "' для настройки."

	textUnknownCommand = "❓ Неизвестная команда. Список команд: /help"
	textUnknownText    = "🤔 Не понимаю. Воспользуйтесь кнопками меню или /help"

	textBusy      = "⏳ Бот занят, попробуйте ещё раз через минуту."
	textForbidden = "⛔ Команда доступна только владельцу бота."
)

func mainKeyboard() *tgui.Reply {
	return tgui.NewReply().Row(btnSettings, btnTimeLeft)
}

func settingsKeyboard() *tgui.Reply {
	return tgui.NewReply().Row(btnSetDate, btnNotifications).Row(btnBack)
}

func cancelInline() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn("❌ Отмена", tgui.Data(cbNamespace, actCancel, "")))
}

func afterDateInline() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn("⏰ Настроить уведомления", tgui.Data(cbNamespace, actSetupNotification, ""))).
		Row(tgui.Btn("⏰ Показать время", tgui.Data(cbNamespace, actShowTime, "")))
}
