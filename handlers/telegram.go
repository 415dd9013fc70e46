package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"clipBot/services"
	"clipBot/utils"
)

// NewBotAPI подключается к Bot API. apiURL задает локальный сервер, пусто - api.telegram.org.
func NewBotAPI(token, apiURL string, client *http.Client) (*tgbotapi.BotAPI, error) {
	endpoint := tgbotapi.APIEndpoint
	if apiURL != "" {
		endpoint = strings.TrimRight(apiURL, "/") + "/bot%s/%s"
	}
	if client == nil {
		client = &http.Client{}
	}
	return tgbotapi.NewBotAPIWithClient(token, endpoint, client)
}

// BotClient - часть tgbotapi.BotAPI, нужная для отправки сообщений
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender отправляет сообщения и файлы через Bot API
type Sender struct {
	client BotClient
}

// NewSender создает отправителя
func NewSender(client BotClient) *Sender {
	return &Sender{client: client}
}

// SendText отправляет текст. Временные ошибки повторяются, длинный текст делится на части.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	for _, part := range utils.SplitMessage(text, utils.MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true

		var permanent error
		err := utils.RetryWithBackoff(ctx, func() error {
			_, err := s.client.Send(msg)
			if isPermanent(err) {
				permanent = err
				return nil
			}
			return err
		}, 2, time.Second)
		if permanent != nil {
			return permanent
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SendMedia отправляет файл как видео
func (s *Sender) SendMedia(ctx context.Context, chatID int64, file services.Upload, caption string) error {
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileReader{Name: file.Name, Reader: file.Reader})
	video.Caption = caption
	video.SupportsStreaming = true

	_, err := s.client.Send(video)
	return err
}

// SendDocument отправляет файл как документ
func (s *Sender) SendDocument(ctx context.Context, chatID int64, file services.Upload, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: file.Name, Reader: file.Reader})
	doc.Caption = caption

	_, err := s.client.Send(doc)
	return err
}

// isPermanent - ошибки, которые не исправит повтор (бот заблокирован, чат не найден)
func isPermanent(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusForbidden
	}
	return false
}

// TelegramHandler обрабатывает сообщения Telegram
type TelegramHandler struct {
	api      *tgbotapi.BotAPI
	sender   *Sender
	pipeline *services.Pipeline
	admin    *services.Admin
	wg       sync.WaitGroup
}

// NewTelegramHandler создает новый обработчик Telegram
func NewTelegramHandler(api *tgbotapi.BotAPI, sender *Sender, pipeline *services.Pipeline, admin *services.Admin) *TelegramHandler {
	return &TelegramHandler{
		api:      api,
		sender:   sender,
		pipeline: pipeline,
		admin:    admin,
	}
}

// Run читает обновления до отмены контекста и ждет завершения начатых запросов
func (h *TelegramHandler) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := h.api.GetUpdatesChan(u)
	log.Infof("🔄 Запуск цикла getUpdates...")

	for {
		select {
		case <-ctx.Done():
			log.Infof("🛑 Остановка приема обновлений, жду завершения запросов...")
			h.api.StopReceivingUpdates()
			h.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				h.wg.Wait()
				return nil
			}
			h.HandleMessage(ctx, update.Message)
		}
	}
}

// HandleMessage обрабатывает входящее сообщение. Каждый запрос идет в своей горутине,
// чтобы долгое скачивание не задерживало остальных пользователей.
func (h *TelegramHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Text == "" {
		return
	}

	if message.IsCommand() {
		if !h.addressedToMe(message) {
			return
		}
		cmd := CommandFromMessage(message)
		if !h.admin.IsCommand(cmd.Name) && !message.Chat.IsPrivate() {
			return
		}
		log.Debugf("📨 Команда /%s от %d", cmd.Name, cmd.SenderID)

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			reply := h.admin.Execute(ctx, cmd)
			if err := h.sender.SendText(ctx, cmd.ChatID, reply); err != nil {
				log.Warnf("⚠️ Не удалось ответить на команду /%s: %v", cmd.Name, err)
			}
		}()
		return
	}

	inbound := ToInbound(message)
	log.Debugf("📨 Получено сообщение от %d в чате %d", inbound.SenderID, inbound.ChatID)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		outcome := h.pipeline.Handle(ctx, inbound)
		log.Debugf("📋 Запрос пользователя %d: %s", inbound.SenderID, outcome.State)
	}()
}

// addressedToMe отсекает команды вида /cmd@other_bot в группах
func (h *TelegramHandler) addressedToMe(message *tgbotapi.Message) bool {
	withAt := message.CommandWithAt()
	i := strings.Index(withAt, "@")
	if i < 0 || h.api == nil {
		return true
	}
	return strings.EqualFold(withAt[i+1:], h.api.Self.UserName)
}

// ToInbound переводит сообщение Telegram во входящее сообщение конвейера
func ToInbound(message *tgbotapi.Message) services.InboundMessage {
	chatType := services.ChatGroup
	if message.Chat.IsPrivate() {
		chatType = services.ChatPrivate
	}
	return services.InboundMessage{
		ChatID:   message.Chat.ID,
		ChatType: chatType,
		SenderID: message.From.ID,
		Sender:   profileOf(message.From),
		Text:     message.Text,
	}
}

// CommandFromMessage разбирает команду Telegram
func CommandFromMessage(message *tgbotapi.Message) services.Command {
	return services.Command{
		Name:     strings.ToLower(message.Command()),
		Args:     strings.TrimSpace(message.CommandArguments()),
		ChatID:   message.Chat.ID,
		SenderID: message.From.ID,
		Sender:   profileOf(message.From),
	}
}

func profileOf(user *tgbotapi.User) services.Profile {
	return services.Profile{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.UserName,
	}
}
