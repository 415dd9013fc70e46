package services

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const (
	operatorKeyMaintenance = "maintenance"
	operatorKeyLimit       = "limit_per_min"
)

// SQLitePersister хранит состояние бота в SQLite
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister открывает (или создает) базу состояния
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории данных: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия БД: %w", err)
	}
	// один писатель: SQLite не любит параллельные записи
	db.SetMaxOpenConns(1)

	if err := createStateTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания таблиц: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// createStateTables создает таблицы состояния
func createStateTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			count INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bans (
			user_id INTEGER PRIMARY KEY,
			reason TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operator_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_users_count ON users(count)`); err != nil {
		log.Warnf("⚠️ Предупреждение: не удалось создать индекс: %v", err)
	}
	return nil
}

// Load читает все состояние из БД
func (p *SQLitePersister) Load() (*State, error) {
	state := &State{
		Users: make(map[int64]UserRecord),
		Bans:  make(map[int64]BanEntry),
	}

	rows, err := p.db.Query(`SELECT id, first_name, last_name, username, count, first_seen FROM users`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей: %w", err)
	}
	for rows.Next() {
		var user UserRecord
		var firstSeen int64
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Username, &user.Count, &firstSeen); err != nil {
			log.Warnf("⚠️ Ошибка сканирования строки: %v", err)
			continue
		}
		user.FirstSeen = time.Unix(firstSeen, 0).UTC()
		state.Users[user.ID] = user
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей: %w", err)
	}

	rows, err = p.db.Query(`SELECT user_id, reason, ts FROM bans`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения банов: %w", err)
	}
	for rows.Next() {
		var id, ts int64
		var ban BanEntry
		if err := rows.Scan(&id, &ban.Reason, &ts); err != nil {
			log.Warnf("⚠️ Ошибка сканирования строки: %v", err)
			continue
		}
		ban.Since = time.Unix(ts, 0).UTC()
		state.Bans[id] = ban
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения банов: %w", err)
	}

	rows, err = p.db.Query(`SELECT key, value FROM operator_state`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case operatorKeyMaintenance:
			state.Operator.Maintenance = value == "1"
		case operatorKeyLimit:
			if n, err := strconv.Atoi(value); err == nil {
				state.Operator.LimitPerMinute = n
			}
		}
	}

	return state, rows.Err()
}

// SaveAll перезаписывает состояние целиком в одной транзакции
func (p *SQLitePersister) SaveAll(state *State) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, query := range []string{`DELETE FROM users`, `DELETE FROM bans`} {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	for _, user := range state.Users {
		if err := upsertUser(tx, user); err != nil {
			return err
		}
	}
	for id, ban := range state.Bans {
		if _, err := tx.Exec(`INSERT INTO bans (user_id, reason, ts) VALUES (?, ?, ?)`, id, ban.Reason, ban.Since.Unix()); err != nil {
			return err
		}
	}
	if err := upsertOperator(tx, state.Operator); err != nil {
		return err
	}

	return tx.Commit()
}

// PutUser сохраняет пользователя
func (p *SQLitePersister) PutUser(user UserRecord) error {
	return upsertUser(p.db, user)
}

// PutBan сохраняет бан
func (p *SQLitePersister) PutBan(userID int64, ban BanEntry) error {
	_, err := p.db.Exec(`
		INSERT INTO bans (user_id, reason, ts) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET reason = excluded.reason, ts = excluded.ts`,
		userID, ban.Reason, ban.Since.Unix())
	return err
}

// DeleteBan удаляет бан
func (p *SQLitePersister) DeleteBan(userID int64) error {
	_, err := p.db.Exec(`DELETE FROM bans WHERE user_id = ?`, userID)
	return err
}

// PutOperator сохраняет настройки администратора
func (p *SQLitePersister) PutOperator(op OperatorState) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertOperator(tx, op); err != nil {
		return err
	}
	return tx.Commit()
}

// Close закрывает соединение с БД
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertUser(db execer, user UserRecord) error {
	_, err := db.Exec(`
		INSERT INTO users (id, first_name, last_name, username, count, first_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			count = excluded.count`,
		user.ID, user.FirstName, user.LastName, user.Username, user.Count, user.FirstSeen.Unix())
	return err
}

func upsertOperator(db execer, op OperatorState) error {
	maintenance := "0"
	if op.Maintenance {
		maintenance = "1"
	}
	values := map[string]string{
		operatorKeyMaintenance: maintenance,
		operatorKeyLimit:       strconv.Itoa(op.LimitPerMinute),
	}
	for key, value := range values {
		if _, err := db.Exec(`
			INSERT INTO operator_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return err
		}
	}
	return nil
}
