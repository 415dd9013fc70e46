package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipBot/services"
	"clipBot/utils"
)

// fakeBot записывает отправленные запросы и возвращает ошибки по очереди
type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	errs []error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func commandMessage(text string, chat *tgbotapi.Chat, from int64) *tgbotapi.Message {
	length := strings.IndexByte(text, ' ')
	if length < 0 {
		length = len(text)
	}
	return &tgbotapi.Message{
		Text:     text,
		Chat:     chat,
		From:     &tgbotapi.User{ID: from, UserName: "sender"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}
}

func privateChat(id int64) *tgbotapi.Chat { return &tgbotapi.Chat{ID: id, Type: "private"} }
func groupChat(id int64) *tgbotapi.Chat   { return &tgbotapi.Chat{ID: id, Type: "supergroup"} }

func TestToInbound(t *testing.T) {
	msg := &tgbotapi.Message{
		Text: "https://vm.tiktok.com/abc/",
		Chat: groupChat(-100),
		From: &tgbotapi.User{ID: 7, FirstName: "Ivan", LastName: "P", UserName: "ivan"},
	}

	assert.Equal(t, services.InboundMessage{
		ChatID:   -100,
		ChatType: services.ChatGroup,
		SenderID: 7,
		Sender:   services.Profile{FirstName: "Ivan", LastName: "P", Username: "ivan"},
		Text:     "https://vm.tiktok.com/abc/",
	}, ToInbound(msg))

	msg.Chat = privateChat(7)
	assert.Equal(t, services.ChatPrivate, ToInbound(msg).ChatType)
}

func TestCommandFromMessage(t *testing.T) {
	cmd := CommandFromMessage(commandMessage("/Ban@clip_bot 42 спам ", privateChat(1), 1))
	assert.Equal(t, "ban", cmd.Name)
	assert.Equal(t, "42 спам", cmd.Args)
	assert.Equal(t, int64(1), cmd.ChatID)
	assert.Equal(t, "sender", cmd.Sender.Username)
}

func TestSenderSendText(t *testing.T) {
	bot := &fakeBot{}
	sender := NewSender(bot)

	long := strings.Repeat("строка\n", utils.MaxMessageLength/7+10)
	require.NoError(t, sender.SendText(context.Background(), 5, long))

	texts := bot.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, strings.TrimRight(long, "\n"), texts[0]+"\n"+texts[1])
}

func TestSenderDoesNotRetryPermanentErrors(t *testing.T) {
	blocked := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	bot := &fakeBot{errs: []error{blocked}}

	err := NewSender(bot).SendText(context.Background(), 5, "hi")
	assert.ErrorIs(t, err, blocked)
	assert.Len(t, bot.sent, 1)
}

func TestSenderRetriesTransientErrors(t *testing.T) {
	bot := &fakeBot{errs: []error{errors.New("connection reset")}}

	require.NoError(t, NewSender(bot).SendText(context.Background(), 5, "hi"))
	assert.Len(t, bot.sent, 2)
}

func TestSenderMedia(t *testing.T) {
	bot := &fakeBot{}
	sender := NewSender(bot)
	upload := services.Upload{Name: "video.mp4", Reader: strings.NewReader("data"), Size: 4}

	require.NoError(t, sender.SendMedia(context.Background(), 5, upload, "caption"))
	require.NoError(t, sender.SendDocument(context.Background(), 5, upload, "caption"))

	require.Len(t, bot.sent, 2)
	video, ok := bot.sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), video.ChatID)
	assert.Equal(t, "caption", video.Caption)
	assert.True(t, video.SupportsStreaming)

	doc, ok := bot.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, "caption", doc.Caption)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&tgbotapi.Error{Code: 400}))
	assert.True(t, isPermanent(&tgbotapi.Error{Code: 403}))
	assert.False(t, isPermanent(&tgbotapi.Error{Code: 429}))
	assert.False(t, isPermanent(errors.New("timeout")))
	assert.False(t, isPermanent(nil))
}

func newTestHandler(t *testing.T, bot *fakeBot) *TelegramHandler {
	t.Helper()

	persister, err := services.NewJSONPersister(t.TempDir())
	require.NoError(t, err)
	store, err := services.OpenStateStore(persister, 5)
	require.NoError(t, err)

	executor, err := services.NewDownloadExecutor(services.ExecutorOptions{DownloadDir: t.TempDir()},
		services.NewYtDlpExtractor("/bin/false", nil))
	require.NoError(t, err)

	sender := NewSender(bot)
	reporter := services.NewErrorReporter(10, 0, nil)
	pipeline, err := services.NewPipeline(services.Deps{
		State:    store,
		Limiter:  services.NewRateLimiter(store.LimitPerMinute),
		Fetcher:  executor,
		Delivery: services.NewDeliveryGateway(sender, 0),
		Reporter: reporter,
	})
	require.NoError(t, err)

	admin := services.NewAdmin(services.AdminDeps{
		State:      store,
		Reporter:   reporter,
		Messenger:  sender,
		OperatorID: 1,
	})
	return NewTelegramHandler(nil, sender, pipeline, admin)
}

func TestHandleMessageRouting(t *testing.T) {
	bot := &fakeBot{}
	h := newTestHandler(t, bot)
	ctx := context.Background()

	h.HandleMessage(ctx, commandMessage("/stats", privateChat(5), 5))
	h.wg.Wait()
	assert.Equal(t, []string{"❌ У вас нет прав на эту команду."}, bot.texts())

	// незнакомая команда в группе адресована другому боту
	h.HandleMessage(ctx, commandMessage("/weather", groupChat(-100), 5))
	h.wg.Wait()
	assert.Len(t, bot.texts(), 1)

	h.HandleMessage(ctx, &tgbotapi.Message{Text: "привет", Chat: privateChat(5), From: &tgbotapi.User{ID: 5}})
	h.wg.Wait()
	texts := bot.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "TikTok")

	h.HandleMessage(ctx, &tgbotapi.Message{Text: "", Chat: privateChat(5), From: &tgbotapi.User{ID: 5}})
	h.HandleMessage(ctx, nil)
	h.wg.Wait()
	assert.Len(t, bot.texts(), 2)
}
