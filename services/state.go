package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Profile содержит данные пользователя из мессенджера
type Profile struct {
	FirstName string
	LastName  string
	Username  string
}

// UserRecord представляет зарегистрированного пользователя
type UserRecord struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
}

// BanEntry описывает блокировку пользователя
type BanEntry struct {
	Reason string    `json:"reason"`
	Since  time.Time `json:"ts"`
}

// OperatorState - переключатели администратора
type OperatorState struct {
	Maintenance    bool `json:"maintenance"`
	LimitPerMinute int  `json:"limit_per_min"`
}

// State - полный снимок сохраняемого состояния
type State struct {
	Users    map[int64]UserRecord
	Bans     map[int64]BanEntry
	Operator OperatorState
}

// Stats - агрегированная статистика для команды stats
type Stats struct {
	Users         int
	Banned        int
	TotalRequests int
	Operator      OperatorState
}

// Persister сохраняет состояние бота на диск
type Persister interface {
	Load() (*State, error)
	SaveAll(state *State) error
	PutUser(user UserRecord) error
	PutBan(userID int64, ban BanEntry) error
	DeleteBan(userID int64) error
	PutOperator(op OperatorState) error
	Close() error
}

// StateStore хранит пользователей, баны и настройки администратора.
// Все изменения сначала применяются в памяти, затем синхронно сохраняются.
type StateStore struct {
	mu        sync.RWMutex
	writeMu   sync.Mutex // единственный писатель в persister
	persister Persister
	state     *State
	now       func() time.Time
}

// OpenStateStore загружает состояние из хранилища
func OpenStateStore(persister Persister, defaultLimit int) (*StateStore, error) {
	if defaultLimit < 1 {
		defaultLimit = 1
	}

	state, err := persister.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки состояния: %w", err)
	}
	if state == nil {
		state = &State{}
	}
	if state.Users == nil {
		state.Users = make(map[int64]UserRecord)
	}
	if state.Bans == nil {
		state.Bans = make(map[int64]BanEntry)
	}
	if state.Operator.LimitPerMinute < 1 {
		state.Operator.LimitPerMinute = defaultLimit
	}

	log.Infof("📂 Состояние загружено: %d пользователей, %d банов, лимит %d/мин",
		len(state.Users), len(state.Bans), state.Operator.LimitPerMinute)

	return &StateStore{
		persister: persister,
		state:     state,
		now:       time.Now,
	}, nil
}

// Save сохраняет полный снимок состояния
func (s *StateStore) Save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot := s.snapshot()
	return s.persist("save", func() error { return s.persister.SaveAll(snapshot) })
}

// Close закрывает хранилище
func (s *StateStore) Close() error {
	return s.persister.Close()
}

// RegisterUser регистрирует пользователя, если он еще не известен.
// Повторный вызов ничего не меняет и не сбрасывает счетчик.
func (s *StateStore) RegisterUser(id int64, profile Profile) (bool, error) {
	if _, known := s.User(id); known {
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, exists := s.state.Users[id]; exists {
		s.mu.Unlock()
		return false, nil
	}
	user := UserRecord{
		ID:        id,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Username:  profile.Username,
		FirstSeen: s.now().UTC().Truncate(time.Second),
	}
	s.state.Users[id] = user
	s.mu.Unlock()

	log.Infof("👤 Новый пользователь: %d (@%s)", id, profile.Username)
	return true, s.persist("register user", func() error { return s.persister.PutUser(user) })
}

// IncrementCount увеличивает счетчик запросов пользователя
func (s *StateStore) IncrementCount(id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	user, exists := s.state.Users[id]
	if !exists {
		user = UserRecord{ID: id, FirstSeen: s.now().UTC().Truncate(time.Second)}
	}
	user.Count++
	s.state.Users[id] = user
	s.mu.Unlock()

	return s.persist("increment count", func() error { return s.persister.PutUser(user) })
}

// IsBanned проверяет, заблокирован ли пользователь
func (s *StateStore) IsBanned(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, banned := s.state.Bans[id]
	return banned
}

// Ban блокирует пользователя
func (s *StateStore) Ban(id int64, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	ban := BanEntry{Reason: reason, Since: s.now().UTC().Truncate(time.Second)}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state.Bans[id] = ban
	s.mu.Unlock()

	log.Infof("🚫 Пользователь %d заблокирован: %s", id, reason)
	return s.persist("ban", func() error { return s.persister.PutBan(id, ban) })
}

// Unban снимает блокировку
func (s *StateStore) Unban(id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.state.Bans, id)
	s.mu.Unlock()

	log.Infof("✅ Пользователь %d разблокирован", id)
	return s.persist("unban", func() error { return s.persister.DeleteBan(id) })
}

// Operator возвращает текущие настройки администратора
func (s *StateStore) Operator() OperatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Operator
}

// LimitPerMinute возвращает текущий лимит запросов в минуту
func (s *StateStore) LimitPerMinute() int {
	return s.Operator().LimitPerMinute
}

// SetMaintenance включает или выключает режим техработ
func (s *StateStore) SetMaintenance(on bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state.Operator.Maintenance = on
	op := s.state.Operator
	s.mu.Unlock()

	log.Infof("🛠️ Режим техработ: %v", on)
	return s.persist("maintenance", func() error { return s.persister.PutOperator(op) })
}

// SetLimit устанавливает лимит запросов в минуту. Значения меньше 1 заменяются на 1.
func (s *StateStore) SetLimit(n int) (int, error) {
	if n < 1 {
		n = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state.Operator.LimitPerMinute = n
	op := s.state.Operator
	s.mu.Unlock()

	log.Infof("⏱️ Лимит запросов: %d/мин", n)
	return n, s.persist("set limit", func() error { return s.persister.PutOperator(op) })
}

// User возвращает запись пользователя
func (s *StateStore) User(id int64) (UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.state.Users[id]
	return user, ok
}

// Users возвращает всех пользователей, отсортированных по ID
func (s *StateStore) Users() []UserRecord {
	s.mu.RLock()
	users := make([]UserRecord, 0, len(s.state.Users))
	for _, user := range s.state.Users {
		users = append(users, user)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Bans возвращает копию списка банов
func (s *StateStore) Bans() map[int64]BanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bans := make(map[int64]BanEntry, len(s.state.Bans))
	for id, ban := range s.state.Bans {
		bans[id] = ban
	}
	return bans
}

// Stats возвращает агрегированную статистику
func (s *StateStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Users:    len(s.state.Users),
		Banned:   len(s.state.Bans),
		Operator: s.state.Operator,
	}
	for _, user := range s.state.Users {
		stats.TotalRequests += user.Count
	}
	return stats
}

func (s *StateStore) snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &State{
		Users:    make(map[int64]UserRecord, len(s.state.Users)),
		Bans:     make(map[int64]BanEntry, len(s.state.Bans)),
		Operator: s.state.Operator,
	}
	for id, user := range s.state.Users {
		snapshot.Users[id] = user
	}
	for id, ban := range s.state.Bans {
		snapshot.Bans[id] = ban
	}
	return snapshot
}

// persist вызывается под writeMu, поэтому на диск не попадет устаревшее значение
func (s *StateStore) persist(op string, write func() error) error {
	if err := write(); err != nil {
		log.Warnf("⚠️ Не удалось сохранить состояние (%s): %v", op, err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}
