package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// JSONPersister хранит состояние в трех JSON документах:
// users.json, bans.json и state.json
type JSONPersister struct {
	dir   string
	state *State
}

type jsonUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Count     int    `json:"count"`
	FirstSeen int64  `json:"first_seen"`
}

type jsonBan struct {
	Reason string `json:"reason"`
	TS     int64  `json:"ts"`
}

// NewJSONPersister создает хранилище в указанной директории
func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории данных: %w", err)
	}
	return &JSONPersister{dir: dir}, nil
}

func (p *JSONPersister) usersPath() string { return filepath.Join(p.dir, "users.json") }
func (p *JSONPersister) bansPath() string  { return filepath.Join(p.dir, "bans.json") }
func (p *JSONPersister) statePath() string { return filepath.Join(p.dir, "state.json") }

// Load читает документы. Отсутствующий или поврежденный файл означает пустое значение.
func (p *JSONPersister) Load() (*State, error) {
	state := &State{
		Users: make(map[int64]UserRecord),
		Bans:  make(map[int64]BanEntry),
	}

	users := map[string]jsonUser{}
	readJSON(p.usersPath(), &users)
	for key, u := range users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warnf("⚠️ Пропускаю пользователя с некорректным ID %q", key)
			continue
		}
		state.Users[id] = UserRecord{
			ID:        id,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Username:  u.Username,
			Count:     u.Count,
			FirstSeen: time.Unix(u.FirstSeen, 0).UTC(),
		}
	}

	bans := map[string]jsonBan{}
	readJSON(p.bansPath(), &bans)
	for key, b := range bans {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warnf("⚠️ Пропускаю бан с некорректным ID %q", key)
			continue
		}
		state.Bans[id] = BanEntry{Reason: b.Reason, Since: time.Unix(b.TS, 0).UTC()}
	}

	readJSON(p.statePath(), &state.Operator)

	p.state = cloneState(state)
	return state, nil
}

// SaveAll перезаписывает все три документа
func (p *JSONPersister) SaveAll(state *State) error {
	p.state = cloneState(state)
	return errors.Join(p.writeUsers(), p.writeBans(), p.writeOperator())
}

// PutUser сохраняет пользователя
func (p *JSONPersister) PutUser(user UserRecord) error {
	p.ensure()
	p.state.Users[user.ID] = user
	return p.writeUsers()
}

// PutBan сохраняет бан
func (p *JSONPersister) PutBan(userID int64, ban BanEntry) error {
	p.ensure()
	p.state.Bans[userID] = ban
	return p.writeBans()
}

// DeleteBan удаляет бан
func (p *JSONPersister) DeleteBan(userID int64) error {
	p.ensure()
	delete(p.state.Bans, userID)
	return p.writeBans()
}

// PutOperator сохраняет настройки администратора
func (p *JSONPersister) PutOperator(op OperatorState) error {
	p.ensure()
	p.state.Operator = op
	return p.writeOperator()
}

// Close ничего не делает: файлы не держатся открытыми
func (p *JSONPersister) Close() error { return nil }

func (p *JSONPersister) ensure() {
	if p.state == nil {
		p.state = &State{Users: make(map[int64]UserRecord), Bans: make(map[int64]BanEntry)}
	}
}

func (p *JSONPersister) writeUsers() error {
	users := make(map[string]jsonUser, len(p.state.Users))
	for id, u := range p.state.Users {
		users[strconv.FormatInt(id, 10)] = jsonUser{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Username:  u.Username,
			Count:     u.Count,
			FirstSeen: u.FirstSeen.Unix(),
		}
	}
	return writeJSONAtomic(p.usersPath(), users)
}

func (p *JSONPersister) writeBans() error {
	bans := make(map[string]jsonBan, len(p.state.Bans))
	for id, b := range p.state.Bans {
		bans[strconv.FormatInt(id, 10)] = jsonBan{Reason: b.Reason, TS: b.Since.Unix()}
	}
	return writeJSONAtomic(p.bansPath(), bans)
}

func (p *JSONPersister) writeOperator() error {
	return writeJSONAtomic(p.statePath(), p.state.Operator)
}

func readJSON(path string, dst any) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("⚠️ Не удалось прочитать %s: %v", path, err)
		}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Warnf("⚠️ Поврежденный файл %s, использую пустое значение: %v", path, err)
	}
}

// writeJSONAtomic пишет во временный файл и переименовывает его
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func cloneState(state *State) *State {
	clone := &State{
		Users:    make(map[int64]UserRecord, len(state.Users)),
		Bans:     make(map[int64]BanEntry, len(state.Bans)),
		Operator: state.Operator,
	}
	for id, u := range state.Users {
		clone.Users[id] = u
	}
	for id, b := range state.Bans {
		clone.Bans[id] = b
	}
	return clone
}
