package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminEnv struct {
	admin     *Admin
	store     *StateStore
	persister *memPersister
	transport *fakeTransport
	reporter  *ErrorReporter
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	persister := newMemPersister()
	store, err := OpenStateStore(persister, 5)
	require.NoError(t, err)
	transport := newFakeTransport()
	reporter := NewErrorReporter(10, testOperator, nil)
	cache, err := NewArtifactCache(t.TempDir(), 7)
	require.NoError(t, err)

	return &adminEnv{
		admin: NewAdmin(AdminDeps{
			State:         store,
			Reporter:      reporter,
			Messenger:     transport,
			Cache:         cache,
			Queue:         staticQueue{Workers: 3, Active: 1},
			OperatorID:    testOperator,
			BroadcastRate: 1000,
		}),
		store:     store,
		persister: persister,
		transport: transport,
		reporter:  reporter,
	}
}

type staticQueue QueueStats

func (q staticQueue) Stats() QueueStats { return QueueStats(q) }

func opCmd(name, args string) Command {
	return Command{Name: name, Args: args, ChatID: testOperator, SenderID: testOperator}
}

func TestAdminStartRegistersUser(t *testing.T) {
	env := newAdminEnv(t)

	reply := env.admin.Execute(context.Background(), Command{Name: "start", ChatID: 5, SenderID: 5, Sender: Profile{Username: "five"}})
	assert.Contains(t, reply, "TikTok")
	assert.Contains(t, reply, "YouTube Shorts")

	user, ok := env.store.User(5)
	require.True(t, ok)
	assert.Equal(t, "five", user.Username)
}

func TestAdminRejectsNonOperator(t *testing.T) {
	env := newAdminEnv(t)

	for _, name := range []string{"stats", "users", "ban", "unban", "broadcast", "maintenance", "setlimit", "errors"} {
		reply := env.admin.Execute(context.Background(), Command{Name: name, Args: "7", ChatID: 5, SenderID: 5})
		assert.Equal(t, msgUnauthorized, reply, name)
	}
	assert.False(t, env.store.IsBanned(7))
	assert.Equal(t, 5, env.store.LimitPerMinute())
	assert.Empty(t, env.transport.texts)
}

func TestAdminUnknownCommand(t *testing.T) {
	env := newAdminEnv(t)
	assert.False(t, env.admin.IsCommand("shutdown"))
	assert.Equal(t, msgUnknownCommand, env.admin.Execute(context.Background(), opCmd("shutdown", "")))
}

func TestAdminBanUnban(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	assert.Equal(t, "🚫 Пользователь 77 заблокирован. Причина: спам в группе", env.admin.Execute(ctx, opCmd("ban", "77 спам в группе")))
	assert.True(t, env.store.IsBanned(77))
	assert.Equal(t, "спам в группе", env.store.Bans()[77].Reason)

	assert.Contains(t, env.admin.Execute(ctx, opCmd("ban", "78")), "Причина: manual")
	assert.Equal(t, "Некорректный ID пользователя.", env.admin.Execute(ctx, opCmd("ban", "abc")))
	assert.Contains(t, env.admin.Execute(ctx, opCmd("ban", "")), "Использование")

	assert.Equal(t, "✅ Пользователь 77 разблокирован.", env.admin.Execute(ctx, opCmd("unban", "77")))
	assert.False(t, env.store.IsBanned(77))
}

func TestAdminSetLimit(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	assert.Equal(t, "⏱️ Лимит запросов в минуту: 10", env.admin.Execute(ctx, opCmd("setlimit", "10")))
	assert.Equal(t, 10, env.store.LimitPerMinute())

	assert.Equal(t, "⏱️ Лимит запросов в минуту: 1", env.admin.Execute(ctx, opCmd("setlimit", "0")))
	assert.Equal(t, 1, env.store.LimitPerMinute())

	assert.Equal(t, "Некорректное число.", env.admin.Execute(ctx, opCmd("setlimit", "ten")))
	assert.Contains(t, env.admin.Execute(ctx, opCmd("setlimit", "")), "Использование")
	assert.Equal(t, 1, env.store.LimitPerMinute())
}

func TestAdminMaintenance(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	assert.Contains(t, env.admin.Execute(ctx, opCmd("maintenance", "ON")), "включен")
	assert.True(t, env.store.Operator().Maintenance)
	assert.Contains(t, env.admin.Execute(ctx, opCmd("maintenance", "off")), "выключен")
	assert.False(t, env.store.Operator().Maintenance)
	assert.Contains(t, env.admin.Execute(ctx, opCmd("maintenance", "maybe")), "Использование")
}

func TestAdminReportsUnsavedChange(t *testing.T) {
	env := newAdminEnv(t)
	env.persister.fail = errBoom

	reply := env.admin.Execute(context.Background(), opCmd("ban", "9 test"))
	assert.Contains(t, reply, "заблокирован")
	assert.Contains(t, reply, "не сохранено: boom")
	assert.True(t, env.store.IsBanned(9))
}

func TestAdminStats(t *testing.T) {
	env := newAdminEnv(t)
	for i := int64(1); i <= 3; i++ {
		_, err := env.store.RegisterUser(i, Profile{})
		require.NoError(t, err)
	}
	require.NoError(t, env.store.IncrementCount(1))
	require.NoError(t, env.store.Ban(2, ""))
	env.reporter.Log(errBoom, "")

	reply := env.admin.Execute(context.Background(), opCmd("stats", ""))
	assert.Contains(t, reply, "Пользователей: 3")
	assert.Contains(t, reply, "Всего запросов: 1")
	assert.Contains(t, reply, "Заблокировано: 1")
	assert.Contains(t, reply, "Техработы: ВЫКЛ")
	assert.Contains(t, reply, "Лимит в минуту: 5")
	assert.Contains(t, reply, "Кэш: 0/7 файлов")
	assert.Contains(t, reply, "1 активных, 0 в очереди, 3 воркеров")
	assert.Contains(t, reply, "Ошибок в журнале: 1")
}

func TestAdminUsersIsCapped(t *testing.T) {
	env := newAdminEnv(t)
	assert.Equal(t, "Пользователей пока нет.", env.admin.Execute(context.Background(), opCmd("users", "")))

	for i := int64(1); i <= MaxListedUsers+5; i++ {
		_, err := env.store.RegisterUser(i, Profile{Username: fmt.Sprintf("user%d", i)})
		require.NoError(t, err)
	}

	reply := env.admin.Execute(context.Background(), opCmd("users", ""))
	assert.Contains(t, reply, fmt.Sprintf("Пользователи (%d)", MaxListedUsers+5))
	assert.Contains(t, reply, "@user200")
	assert.NotContains(t, reply, "@user201")
	assert.Contains(t, strings.ToLower(reply), "и еще")
}

func TestAdminBroadcast(t *testing.T) {
	env := newAdminEnv(t)
	for _, id := range []int64{1, 2, 3} {
		_, err := env.store.RegisterUser(id, Profile{})
		require.NoError(t, err)
	}
	env.transport.textErr[2] = errors.New("Forbidden: bot was blocked by the user")

	reply := env.admin.Execute(context.Background(), opCmd("broadcast", "  Новая версия!  "))
	assert.Equal(t, "📣 Рассылка завершена. Отправлено 2 из 3 пользователей.", reply)
	assert.Equal(t, []string{"Новая версия!"}, env.transport.Texts(1))
	assert.Equal(t, []string{"Новая версия!"}, env.transport.Texts(3))
	assert.Equal(t, []string{"📣 Рассылка начата..."}, env.transport.Texts(testOperator))

	records := env.reporter.Recent(0)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "Broadcast failed to 2")

	assert.Contains(t, env.admin.Execute(context.Background(), opCmd("broadcast", "")), "Использование")
}

func TestAdminBroadcastStopsOnCancel(t *testing.T) {
	env := newAdminEnv(t)
	_, err := env.store.RegisterUser(1, Profile{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := env.admin.Execute(ctx, opCmd("broadcast", "hi"))
	assert.Contains(t, reply, "Отправлено 0 из 1")
}

func TestAdminRecentErrors(t *testing.T) {
	env := newAdminEnv(t)
	assert.Equal(t, "Ошибок пока нет.", env.admin.Execute(context.Background(), opCmd("errors", "")))

	env.reporter.Log(errBoom, "User: 1")
	reply := env.admin.Execute(context.Background(), opCmd("errors", ""))
	assert.Contains(t, reply, "Error: boom\nUser: 1")
}
