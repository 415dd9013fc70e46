package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// CachedFile - файл в директории кэша
type CachedFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ArtifactCache хранит скачанные видео по точному URL источника.
// Число файлов в директории кэша не превышает maxFiles после каждой вставки.
// Вставка, вытеснение и открытие файла выполняются под одним мьютексом.
type ArtifactCache struct {
	dir      string
	maxFiles int
	entries  map[string]string // URL -> путь к файлу
	mutex    sync.Mutex
	now      func() time.Time
}

// NewArtifactCache создает кэш в указанной директории
func NewArtifactCache(dir string, maxFiles int) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории кэша: %w", err)
	}
	if maxFiles < 1 {
		return nil, fmt.Errorf("размер кэша должен быть положительным: %d", maxFiles)
	}

	cache := &ArtifactCache{
		dir:      dir,
		maxFiles: maxFiles,
		entries:  make(map[string]string),
		now:      time.Now,
	}

	// Файлы прошлого запуска не привязаны к URL, но учитываются при вытеснении
	if removed := cache.EvictToCapacity(); removed > 0 {
		log.Infof("🗑️ При запуске удалено %d старых файлов кэша", removed)
	}
	return cache, nil
}

// Dir возвращает директорию кэша
func (c *ArtifactCache) Dir() string { return c.dir }

// MaxFiles возвращает максимальное число файлов
func (c *ArtifactCache) MaxFiles() int { return c.maxFiles }

// Lookup возвращает путь к файлу, если он есть в кэше и существует на диске.
// Устаревшая запись удаляется.
func (c *ArtifactCache) Lookup(url string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.lookupLocked(url)
}

// Open находит файл в кэше и открывает его. Открытый дескриптор остается
// читаемым, даже если файл будет вытеснен во время отправки.
func (c *ArtifactCache) Open(url string) (*os.File, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	path, ok := c.lookupLocked(url)
	if !ok {
		return nil, false
	}

	file, err := os.Open(path)
	if err != nil {
		log.Warnf("⚠️ Не удалось открыть файл кэша %s: %v", path, err)
		delete(c.entries, url)
		return nil, false
	}

	// Попадание освежает mtime, чтобы популярные видео вытеснялись последними
	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		log.Debugf("Не удалось обновить mtime %s: %v", path, err)
	}
	return file, true
}

// Insert добавляет или перезаписывает запись для файла, уже лежащего в директории кэша.
// Прежний файл того же URL удаляется. После вставки нужно вызвать EvictToCapacity.
func (c *ArtifactCache) Insert(url, path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.insertLocked(url, path)
}

// EvictToCapacity удаляет самые старые по mtime файлы, пока их не станет не больше maxFiles
func (c *ArtifactCache) EvictToCapacity() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.evictLocked("")
}

// Store переносит скачанный файл в директорию кэша, добавляет запись,
// вытесняет лишнее и открывает сохраненный файл - все в одной критической секции.
func (c *ArtifactCache) Store(url, src string) (*os.File, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dst := filepath.Join(c.dir, uuid.NewString()+filepath.Ext(src))
	if err := moveFile(src, dst); err != nil {
		return nil, fmt.Errorf("ошибка переноса файла в кэш: %w", err)
	}

	// Новый файл должен быть самым свежим, иначе его вытеснят первым
	now := c.now()
	if err := os.Chtimes(dst, now, now); err != nil {
		log.Debugf("Не удалось обновить mtime %s: %v", dst, err)
	}

	c.insertLocked(url, dst)
	c.evictLocked(dst)

	file, err := os.Open(dst)
	if err != nil {
		delete(c.entries, url)
		return nil, fmt.Errorf("ошибка открытия файла кэша: %w", err)
	}

	log.Infof("💾 Видео добавлено в кэш: %s -> %s", url, filepath.Base(dst))
	return file, nil
}

// Len возвращает число записей URL -> файл
func (c *ArtifactCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Files возвращает файлы директории кэша, от старых к новым
func (c *ArtifactCache) Files() ([]CachedFile, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.listFiles()
}

func (c *ArtifactCache) insertLocked(url, path string) {
	if old, exists := c.entries[url]; exists && old != path {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.Warnf("⚠️ Не удалось удалить прежний файл %s: %v", old, err)
		}
	}
	c.entries[url] = path
}

func (c *ArtifactCache) lookupLocked(url string) (string, bool) {
	path, ok := c.entries[url]
	if !ok {
		return "", false
	}

	if _, err := os.Stat(path); err != nil {
		// Файл удален извне, запись больше не действительна
		delete(c.entries, url)
		log.Infof("🧹 Устаревшая запись кэша удалена: %s", url)
		return "", false
	}
	return path, true
}

// evictLocked не трогает keep - только что сохраненный файл
func (c *ArtifactCache) evictLocked(keep string) int {
	files, err := c.listFiles()
	if err != nil {
		log.Warnf("⚠️ Не удалось прочитать директорию кэша: %v", err)
		return 0
	}
	if len(files) <= c.maxFiles {
		return 0
	}

	byPath := make(map[string][]string, len(c.entries))
	for url, path := range c.entries {
		byPath[path] = append(byPath[path], url)
	}

	removed := 0
	excess := len(files) - c.maxFiles
	for _, f := range files {
		if removed >= excess {
			break
		}
		if f.Path == keep {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			log.Warnf("⚠️ Не удалось удалить файл %s: %v", f.Path, err)
			continue
		}
		for _, url := range byPath[f.Path] {
			delete(c.entries, url)
		}
		removed++
		log.Infof("🗑️ Удален старый файл кэша: %s", filepath.Base(f.Path))
	}
	return removed
}

func (c *ArtifactCache) listFiles() ([]CachedFile, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	files := make([]CachedFile, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// удален между ReadDir и Info
			continue
		}
		files = append(files, CachedFile{
			Path:    filepath.Join(c.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// moveFile переименовывает файл, а между разными файловыми системами копирует его
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
