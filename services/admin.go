package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MaxListedUsers - сколько пользователей показывает команда users
const MaxListedUsers = 200

// DefaultBroadcastRate - сообщений в секунду при рассылке
const DefaultBroadcastRate = 20.0

// Command - команда боту с уже разобранными аргументами
type Command struct {
	Name     string
	Args     string
	ChatID   int64
	SenderID int64
	Sender   Profile
}

// QueueStatter отдает статистику пула загрузок
type QueueStatter interface {
	Stats() QueueStats
}

// AdminDeps - зависимости команд администратора
type AdminDeps struct {
	State         *StateStore
	Reporter      *ErrorReporter
	Messenger     Notifier
	Cache         *ArtifactCache // может быть nil
	Queue         QueueStatter   // может быть nil
	Detector      *PlatformDetector
	OperatorID    int64
	BroadcastRate float64 // сообщений в секунду
}

// Admin выполняет публичные команды и команды администратора
type Admin struct {
	deps    AdminDeps
	limiter *rate.Limiter
}

// NewAdmin создает обработчик команд
func NewAdmin(deps AdminDeps) *Admin {
	if deps.BroadcastRate <= 0 {
		deps.BroadcastRate = DefaultBroadcastRate
	}
	if deps.Detector == nil {
		deps.Detector = NewPlatformDetector()
	}
	return &Admin{
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(deps.BroadcastRate), 1),
	}
}

// IsCommand проверяет, знает ли бот такую команду
func (a *Admin) IsCommand(name string) bool {
	switch name {
	case "start", "help", "stats", "users", "ban", "unban", "broadcast", "maintenance", "setlimit", "errors":
		return true
	}
	return false
}

// Execute выполняет команду и возвращает текст ответа.
// Команды администратора от других пользователей ничего не меняют.
func (a *Admin) Execute(ctx context.Context, cmd Command) string {
	switch cmd.Name {
	case "start", "help":
		if _, err := a.deps.State.RegisterUser(cmd.SenderID, cmd.Sender); err != nil {
			log.Warnf("⚠️ Пользователь %d не сохранен: %v", cmd.SenderID, err)
		}
		return a.welcome()
	}

	if !a.IsCommand(cmd.Name) {
		return msgUnknownCommand
	}
	if a.deps.OperatorID == 0 || cmd.SenderID != a.deps.OperatorID {
		log.Warnf("🚫 Пользователь %d пытался выполнить /%s", cmd.SenderID, cmd.Name)
		return msgUnauthorized
	}

	log.Infof("🛠️ Команда администратора: /%s %s", cmd.Name, cmd.Args)
	switch cmd.Name {
	case "stats":
		return a.stats()
	case "users":
		return a.users()
	case "ban":
		return a.ban(cmd.Args)
	case "unban":
		return a.unban(cmd.Args)
	case "broadcast":
		return a.broadcast(ctx, cmd)
	case "maintenance":
		return a.maintenance(cmd.Args)
	case "setlimit":
		return a.setLimit(cmd.Args)
	default:
		return a.recentErrors()
	}
}

func (a *Admin) welcome() string {
	var b strings.Builder
	b.WriteString("👋 Привет! Я скачиваю короткие видео.\n")
	b.WriteString("Отправьте ссылку, и я пришлю видео без водяного знака.\n\n")
	b.WriteString("📋 Поддерживаемые платформы:\n")
	for _, platform := range a.deps.Detector.SupportedPlatforms() {
		fmt.Fprintf(&b, "%s %s\n", platform.Icon, platform.DisplayName)
	}
	b.WriteString("\nЯ работаю в личных сообщениях и в группах.")
	return b.String()
}

func (a *Admin) stats() string {
	st := a.deps.State.Stats()

	var b strings.Builder
	b.WriteString("📊 Статистика бота:\n\n")
	fmt.Fprintf(&b, "Пользователей: %s\n", humanize.Comma(int64(st.Users)))
	fmt.Fprintf(&b, "Всего запросов: %s\n", humanize.Comma(int64(st.TotalRequests)))
	fmt.Fprintf(&b, "Заблокировано: %d\n", st.Banned)
	fmt.Fprintf(&b, "Техработы: %s\n", onOff(st.Operator.Maintenance))
	fmt.Fprintf(&b, "Лимит в минуту: %d\n", st.Operator.LimitPerMinute)

	if a.deps.Cache != nil {
		if files, err := a.deps.Cache.Files(); err == nil {
			var total int64
			for _, f := range files {
				total += f.Size
			}
			fmt.Fprintf(&b, "Кэш: %d/%d файлов, %s\n", len(files), a.deps.Cache.MaxFiles(), humanize.IBytes(uint64(total)))
		}
	}
	if a.deps.Queue != nil {
		q := a.deps.Queue.Stats()
		fmt.Fprintf(&b, "Загрузки: %d активных, %d в очереди, %d воркеров\n", q.Active, q.Queued, q.Workers)
	}
	fmt.Fprintf(&b, "Ошибок в журнале: %d", len(a.deps.Reporter.Recent(0)))
	return b.String()
}

func (a *Admin) users() string {
	users := a.deps.State.Users()
	if len(users) == 0 {
		return "Пользователей пока нет."
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Username", "Имя", "Запросы"})
	for i, user := range users {
		if i == MaxListedUsers {
			break
		}
		t.AppendRow(table.Row{user.ID, "@" + user.Username, user.FirstName, user.Count})
	}
	if len(users) > MaxListedUsers {
		t.AppendFooter(table.Row{"", "", "и еще", len(users) - MaxListedUsers})
	}
	return fmt.Sprintf("👥 Пользователи (%d):\n%s", len(users), t.Render())
}

func (a *Admin) ban(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Использование: /ban <user_id> [причина]"
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "Некорректный ID пользователя."
	}
	reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), fields[0]))
	if reason == "" {
		reason = "manual"
	}

	text := fmt.Sprintf("🚫 Пользователь %d заблокирован. Причина: %s", id, reason)
	return withPersistNote(text, a.deps.State.Ban(id, reason))
}

func (a *Admin) unban(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Использование: /unban <user_id>"
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "Некорректный ID пользователя."
	}
	return withPersistNote(fmt.Sprintf("✅ Пользователь %d разблокирован.", id), a.deps.State.Unban(id))
}

func (a *Admin) broadcast(ctx context.Context, cmd Command) string {
	text := strings.TrimSpace(cmd.Args)
	if text == "" {
		return "Использование: /broadcast текст сообщения"
	}
	if a.deps.Messenger == nil {
		return "❌ Рассылка недоступна."
	}

	if err := a.deps.Messenger.SendText(ctx, cmd.ChatID, "📣 Рассылка начата..."); err != nil {
		log.Warnf("⚠️ Не удалось отправить сообщение администратору: %v", err)
	}

	users := a.deps.State.Users()
	sent := 0
	for _, user := range users {
		if err := a.limiter.Wait(ctx); err != nil {
			log.Warnf("⚠️ Рассылка прервана: %v", err)
			break
		}
		if err := a.deps.Messenger.SendText(ctx, user.ID, text); err != nil {
			a.deps.Reporter.Log(err, fmt.Sprintf("Broadcast failed to %d", user.ID))
			continue
		}
		sent++
	}

	log.Infof("📣 Рассылка завершена: %d/%d", sent, len(users))
	return fmt.Sprintf("📣 Рассылка завершена. Отправлено %d из %d пользователей.", sent, len(users))
}

func (a *Admin) maintenance(args string) string {
	var on bool
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return "Использование: /maintenance on|off"
	}

	text := "✅ Режим техработ выключен."
	if on {
		text = "🛠️ Режим техработ включен. Бот отвечает только администратору."
	}
	return withPersistNote(text, a.deps.State.SetMaintenance(on))
}

func (a *Admin) setLimit(args string) string {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		if strings.TrimSpace(args) == "" {
			return "Использование: /setlimit <запросов_в_минуту>"
		}
		return "Некорректное число."
	}
	limit, err := a.deps.State.SetLimit(n)
	return withPersistNote(fmt.Sprintf("⏱️ Лимит запросов в минуту: %d", limit), err)
}

func (a *Admin) recentErrors() string {
	records := a.deps.Reporter.Recent(20)
	if len(records) == 0 {
		return "Ошибок пока нет."
	}

	var b strings.Builder
	b.WriteString("🧾 Последние ошибки:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "[%s] %s\n", rec.At.Format(time.DateTime), rec.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

const (
	msgUnauthorized   = "❌ У вас нет прав на эту команду."
	msgUnknownCommand = "Неизвестная команда. Используйте /help."
)

func withPersistNote(text string, err error) string {
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return text + fmt.Sprintf("\n⚠️ Изменение применено, но не сохранено: %v", persistErr.Err)
	}
	return text
}

func onOff(v bool) string {
	if v {
		return "ВКЛ"
	}
	return "ВЫКЛ"
}
