package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock - управляемое время для тестов
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentFile struct {
	ChatID  int64
	Name    string
	Body    string
	Caption string
}

// fakeTransport записывает все отправки
type fakeTransport struct {
	mu           sync.Mutex
	texts        map[int64][]string
	media        []sentFile
	documents    []sentFile
	mediaErr     error
	documentErr  error
	textErr      map[int64]error
	mediaCalls   int
	documentCall int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{texts: make(map[int64][]string), textErr: make(map[int64]error)}
}

func (t *fakeTransport) SendText(_ context.Context, chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.textErr[chatID]; err != nil {
		return err
	}
	t.texts[chatID] = append(t.texts[chatID], text)
	return nil
}

func (t *fakeTransport) SendMedia(_ context.Context, chatID int64, file Upload, caption string) error {
	body, _ := io.ReadAll(file.Reader)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mediaCalls++
	if t.mediaErr != nil {
		return t.mediaErr
	}
	t.media = append(t.media, sentFile{ChatID: chatID, Name: file.Name, Body: string(body), Caption: caption})
	return nil
}

func (t *fakeTransport) SendDocument(_ context.Context, chatID int64, file Upload, caption string) error {
	body, _ := io.ReadAll(file.Reader)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documentCall++
	if t.documentErr != nil {
		return t.documentErr
	}
	t.documents = append(t.documents, sentFile{ChatID: chatID, Name: file.Name, Body: string(body), Caption: caption})
	return nil
}

func (t *fakeTransport) Texts(chatID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts[chatID]...)
}

func (t *fakeTransport) LastText(chatID int64) string {
	texts := t.Texts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// fakeExtractor пишет файл по шаблону или возвращает ошибку
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	ext     string
	content []byte
	err     error
	delay   time.Duration
	partial bool // оставить недокачанный файл при ошибке
	reqs    []ExtractRequest
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.partial {
		_ = os.WriteFile(strings.Replace(req.OutputTemplate, "%(ext)s", "mp4.part", 1), []byte("partial"), 0644)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	ext := f.ext
	if ext == "" {
		ext = "mp4"
	}
	path := strings.Replace(req.OutputTemplate, "%(ext)s", ext, 1)
	content := f.content
	if content == nil {
		content = []byte("video:" + req.URL)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, err
	}
	return &ExtractResult{FilePath: path, Metadata: VideoMetadata{ID: "123", Title: "clip"}}, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memPersister хранит состояние в памяти и умеет падать по требованию
type memPersister struct {
	mu    sync.Mutex
	state *State
	fail  error
	saves int
}

func newMemPersister() *memPersister {
	return &memPersister{state: &State{Users: map[int64]UserRecord{}, Bans: map[int64]BanEntry{}}}
}

func (m *memPersister) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state), nil
}

func (m *memPersister) SaveAll(state *State) error {
	return m.write(func() { m.state = cloneState(state) })
}

func (m *memPersister) PutUser(user UserRecord) error {
	return m.write(func() { m.state.Users[user.ID] = user })
}

func (m *memPersister) PutBan(userID int64, ban BanEntry) error {
	return m.write(func() { m.state.Bans[userID] = ban })
}

func (m *memPersister) DeleteBan(userID int64) error {
	return m.write(func() { delete(m.state.Bans, userID) })
}

func (m *memPersister) PutOperator(op OperatorState) error {
	return m.write(func() { m.state.Operator = op })
}

func (m *memPersister) Close() error { return nil }

func (m *memPersister) write(apply func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	apply()
	return nil
}

var errBoom = errors.New("boom")

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := OpenStateStore(newMemPersister(), 5)
	require.NoError(t, err)
	return store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
