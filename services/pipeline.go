package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// ChatType - тип чата, из которого пришло сообщение
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// InboundMessage - входящее текстовое сообщение с полями, нужными конвейеру
type InboundMessage struct {
	ChatID   int64
	ChatType ChatType
	SenderID int64
	Sender   Profile
	Text     string
}

// AdmissionDecision - результат проверки допуска
type AdmissionDecision int

const (
	Admitted AdmissionDecision = iota
	RejectedBanned
	RejectedMaintenance
	RejectedRateLimited
)

func (d AdmissionDecision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case RejectedBanned:
		return "banned"
	case RejectedMaintenance:
		return "maintenance"
	case RejectedRateLimited:
		return "rate limited"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// RequestState - итоговое состояние обработки запроса
type RequestState string

const (
	StateInvalid        RequestState = "invalid"
	StateRejected       RequestState = "rejected"
	StateFetchFailed    RequestState = "fetch_failed"
	StateTooLarge       RequestState = "too_large"
	StateDelivered      RequestState = "delivered"
	StateDeliveryFailed RequestState = "delivery_failed"
	StateFailed         RequestState = "failed"
)

// Outcome описывает, чем закончилась обработка сообщения
type Outcome struct {
	State    RequestState
	Decision AdmissionDecision
	URL      string
	Platform PlatformType
	CacheHit bool
	Delivery *DeliveryResult
	Err      error
}

// Fetcher скачивает видео. Реализуется DownloadExecutor.
type Fetcher interface {
	Fetch(ctx context.Context, req ExtractRequest) (*FetchResult, error)
}

// Deps - общие зависимости конвейера, создаются один раз при запуске
type Deps struct {
	State      *StateStore
	Limiter    *RateLimiter
	Cache      *ArtifactCache // nil отключает кэш
	Fetcher    Fetcher
	Delivery   *DeliveryGateway
	Reporter   *ErrorReporter
	Detector   *PlatformDetector
	OperatorID int64
	Progress   bool // промежуточные сообщения о ходе скачивания
}

// Pipeline решает, обслуживать ли ссылку, и доводит запрос до отправки файла
type Pipeline struct {
	deps Deps
}

// NewPipeline создает конвейер
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("не задано хранилище состояния")
	case deps.Limiter == nil:
		return nil, errors.New("не задан лимитер")
	case deps.Fetcher == nil:
		return nil, errors.New("не задан загрузчик")
	case deps.Delivery == nil:
		return nil, errors.New("не задан шлюз отправки")
	case deps.Reporter == nil:
		return nil, errors.New("не задан журнал ошибок")
	}
	if deps.Detector == nil {
		deps.Detector = NewPlatformDetector()
	}
	return &Pipeline{deps: deps}, nil
}

// IsOperator проверяет, является ли пользователь администратором
func (p *Pipeline) IsOperator(userID int64) bool {
	return p.deps.OperatorID != 0 && userID == p.deps.OperatorID
}

// Admit проверяет бан, техработы и лимит по порядку. Первая неудача решает.
// Администратор проходит без проверок.
func (p *Pipeline) Admit(userID int64) AdmissionDecision {
	if p.IsOperator(userID) {
		return Admitted
	}
	if p.deps.State.IsBanned(userID) {
		return RejectedBanned
	}
	if p.deps.State.Operator().Maintenance {
		return RejectedMaintenance
	}
	if !p.deps.Limiter.Allow(userID) {
		return RejectedRateLimited
	}
	return Admitted
}

// Handle обрабатывает одно входящее сообщение. Никогда не паникует.
func (p *Pipeline) Handle(ctx context.Context, msg InboundMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("паника при обработке сообщения: %v", r)
			p.deps.Reporter.Record(ctx, err, requestDetails(msg))
			p.reply(ctx, msg.ChatID, msgUnexpected)
			out = Outcome{State: StateFailed, URL: out.URL, Platform: out.Platform, Err: err}
		}
	}()

	if _, err := p.deps.State.RegisterUser(msg.SenderID, msg.Sender); err != nil {
		log.Warnf("⚠️ Пользователь %d не сохранен: %v", msg.SenderID, err)
	}

	text := strings.TrimSpace(msg.Text)
	link, ok := p.deps.Detector.FindLink(text)
	if !ok {
		if msg.ChatType == ChatPrivate {
			p.reply(ctx, msg.ChatID, p.hint())
		}
		return Outcome{State: StateInvalid, Err: &ValidationError{Text: text}}
	}
	p.deps.Detector.LogPlatformInfo(link)
	out = Outcome{URL: link.URL, Platform: link.Type}

	if decision := p.Admit(msg.SenderID); decision != Admitted {
		log.Infof("⛔ Запрос пользователя %d отклонен: %s", msg.SenderID, decision)
		p.reply(ctx, msg.ChatID, rejectionText(decision))
		out.State = StateRejected
		out.Decision = decision
		out.Err = &AdmissionError{Decision: decision}
		return out
	}

	p.progress(ctx, msg.ChatID, msgReceived)

	if p.deps.Cache != nil {
		if file, hit := p.deps.Cache.Open(link.URL); hit {
			log.Infof("⚡ Видео найдено в кэше: %s", link.URL)
			out.CacheHit = true
			return p.deliver(ctx, msg, link, Artifact{Path: file.Name(), File: file}, out)
		}
	}

	p.progress(ctx, msg.ChatID, fmt.Sprintf(msgDownloading, link.Icon, link.DisplayName))

	fetched, err := p.deps.Fetcher.Fetch(ctx, ExtractRequest{
		URL:      link.URL,
		Platform: link.Type,
		UserID:   msg.SenderID,
	})
	if err != nil {
		p.deps.Reporter.Record(ctx, err, requestDetails(msg))
		if msg.ChatType == ChatPrivate {
			p.reply(ctx, msg.ChatID, fmt.Sprintf(msgFetchFailedDetail, rootCause(err)))
		} else {
			p.reply(ctx, msg.ChatID, msgFetchFailed)
		}
		out.State = StateFetchFailed
		out.Err = err
		return out
	}

	if _, err := p.deps.Delivery.CheckSize(fetched.FilePath); err != nil {
		removeTransient(fetched.FilePath)
		var tooLarge *TooLargeError
		if errors.As(err, &tooLarge) {
			p.reply(ctx, msg.ChatID, tooLargeText(tooLarge))
			out.State = StateTooLarge
		} else {
			p.deps.Reporter.Record(ctx, err, requestDetails(msg))
			p.reply(ctx, msg.ChatID, msgFetchFailed)
			out.State = StateFetchFailed
		}
		out.Err = err
		return out
	}

	artifact := Artifact{Path: fetched.FilePath, Transient: true}
	if p.deps.Cache != nil {
		file, err := p.deps.Cache.Store(link.URL, fetched.FilePath)
		if err != nil {
			log.Warnf("⚠️ Видео не добавлено в кэш, отправляю без кэширования: %v", err)
		} else {
			artifact = Artifact{Path: file.Name(), File: file}
		}
	}

	return p.deliver(ctx, msg, link, artifact, out)
}

func (p *Pipeline) deliver(ctx context.Context, msg InboundMessage, link *PlatformInfo, artifact Artifact, out Outcome) Outcome {
	p.progress(ctx, msg.ChatID, msgUploading)

	caption := fmt.Sprintf(msgCaption, link.Icon, link.DisplayName)
	result, err := p.deps.Delivery.Deliver(ctx, msg.ChatID, artifact, caption)
	if err != nil {
		out.Err = err
		var tooLarge *TooLargeError
		if errors.As(err, &tooLarge) {
			p.reply(ctx, msg.ChatID, tooLargeText(tooLarge))
			out.State = StateTooLarge
			return out
		}
		p.deps.Reporter.Record(ctx, err, requestDetails(msg))
		p.reply(ctx, msg.ChatID, msgDeliveryFailed)
		out.State = StateDeliveryFailed
		return out
	}

	if err := p.deps.State.IncrementCount(msg.SenderID); err != nil {
		log.Warnf("⚠️ Счетчик пользователя %d не сохранен: %v", msg.SenderID, err)
	}

	log.Infof("✅ Видео отправлено пользователю %d (%s, %s)", msg.SenderID, result.Method, humanize.IBytes(uint64(result.Size)))
	out.State = StateDelivered
	out.Delivery = result
	return out
}

func (p *Pipeline) reply(ctx context.Context, chatID int64, text string) {
	p.deps.Delivery.SendText(ctx, chatID, text)
}

func (p *Pipeline) progress(ctx context.Context, chatID int64, text string) {
	if p.deps.Progress {
		p.reply(ctx, chatID, text)
	}
}

func (p *Pipeline) hint() string {
	var names []string
	for _, platform := range p.deps.Detector.SupportedPlatforms() {
		names = append(names, platform.Icon+" "+platform.DisplayName)
	}
	return fmt.Sprintf(msgHint, strings.Join(names, "\n"))
}

// Тексты ответов пользователю
const (
	msgHint              = "⚠️ Отправьте ссылку на короткое видео. Поддерживаются:\n%s"
	msgBanned            = "❌ Вы заблокированы и не можете пользоваться ботом."
	msgMaintenance       = "⚠️ Бот на техническом обслуживании. Попробуйте позже."
	msgRateLimited       = "⏳ Слишком много запросов. Попробуйте через минуту."
	msgReceived          = "🔗 Ссылка получена! Начинаю обработку..."
	msgDownloading       = "⬇️ Скачиваю видео %s %s..."
	msgUploading         = "📤 Отправляю видео..."
	msgCaption           = "✅ Ваше видео %s %s"
	msgFetchFailed       = "❌ Не удалось скачать видео. Попробуйте позже."
	msgFetchFailedDetail = "❌ Не удалось скачать видео: %v"
	msgTooLarge          = "❌ Видео слишком большое для Telegram (%s, лимит %s)."
	msgDeliveryFailed    = "❌ Не удалось отправить видео. Администратор уведомлен."
	msgUnexpected        = "❌ Произошла непредвиденная ошибка. Администратор уведомлен."
)

func rejectionText(decision AdmissionDecision) string {
	switch decision {
	case RejectedBanned:
		return msgBanned
	case RejectedMaintenance:
		return msgMaintenance
	default:
		return msgRateLimited
	}
}

func tooLargeText(err *TooLargeError) string {
	return fmt.Sprintf(msgTooLarge, humanize.IBytes(uint64(err.Size)), humanize.IBytes(uint64(err.Limit)))
}

func requestDetails(msg InboundMessage) string {
	return fmt.Sprintf("User: %d\nMsg: %s", msg.SenderID, msg.Text)
}

// rootCause убирает обертку ExtractionError, чтобы не повторять URL в ответе
func rootCause(err error) error {
	var extraction *ExtractionError
	if errors.As(err, &extraction) && extraction.Err != nil {
		return extraction.Err
	}
	return err
}

func removeTransient(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("⚠️ Не удалось удалить временный файл %s: %v", path, err)
	}
}
