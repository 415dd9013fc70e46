package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ExecutorOptions - настройки пула загрузок
type ExecutorOptions struct {
	Workers     int           // число одновременных загрузок
	QueueSize   int           // сколько задач может ждать свободного воркера
	Timeout     time.Duration // предел на одну загрузку
	DownloadDir string        // куда складываются временные файлы
	CookiesPath string        // cookies.txt, используется только если существует
}

// FetchResult - результат успешной загрузки
type FetchResult struct {
	JobID    string
	FilePath string
	Size     int64
	Metadata VideoMetadata
	Elapsed  time.Duration
}

// QueueStats - текущее состояние пула
type QueueStats struct {
	Workers int
	Active  int
	Queued  int
}

// JobStatus представляет статус задачи
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"    // В очереди
	JobStatusProcessing JobStatus = "processing" // Обрабатывается
)

type downloadJob struct {
	ID        string
	ctx       context.Context
	req       ExtractRequest
	CreatedAt time.Time
	Status    JobStatus
	result    chan jobResult
}

type jobResult struct {
	res *FetchResult
	err error
}

// DownloadExecutor выполняет загрузки в ограниченном пуле воркеров,
// чтобы блокирующий экстрактор не задерживал обработку других сообщений.
type DownloadExecutor struct {
	jobs          chan *downloadJob
	slots         chan struct{} // занятые места: воркеры плюс очередь
	workers       int
	timeout       time.Duration
	downloadDir   string
	cookiesPath   string
	extractor     Extractor
	activeJobs    map[string]*downloadJob
	activeJobsMux sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	startOnce     sync.Once
	stopOnce      sync.Once
}

// NewDownloadExecutor создает пул загрузок
func NewDownloadExecutor(opts ExecutorOptions, extractor Extractor) (*DownloadExecutor, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloads"
	}
	if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать папку для загрузок: %w", err)
	}

	capacity := opts.Workers + opts.QueueSize
	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadExecutor{
		jobs:        make(chan *downloadJob, capacity),
		slots:       make(chan struct{}, capacity),
		workers:     opts.Workers,
		timeout:     opts.Timeout,
		downloadDir: opts.DownloadDir,
		cookiesPath: opts.CookiesPath,
		extractor:   extractor,
		activeJobs:  make(map[string]*downloadJob),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start запускает воркеры
func (e *DownloadExecutor) Start() {
	e.startOnce.Do(func() {
		log.Infof("🚀 Запуск пула загрузок с %d воркерами (%s)", e.workers, e.extractor.Name())
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker(i)
		}
	})
}

// Stop останавливает воркеры и прерывает текущие загрузки
func (e *DownloadExecutor) Stop() {
	e.stopOnce.Do(func() {
		log.Infof("🛑 Остановка пула загрузок...")
		e.cancel()
		e.wg.Wait()
		log.Infof("✅ Пул загрузок остановлен")
	})
}

// DownloadDir возвращает директорию временных файлов
func (e *DownloadExecutor) DownloadDir() string { return e.downloadDir }

// Fetch ставит загрузку в очередь и ждет результата.
// Если заняты все Workers+QueueSize мест, сразу возвращает ErrQueueFull.
func (e *DownloadExecutor) Fetch(ctx context.Context, req ExtractRequest) (*FetchResult, error) {
	job := &downloadJob{
		ID:        uuid.NewString(),
		ctx:       ctx,
		req:       req,
		CreatedAt: time.Now(),
		Status:    JobStatusPending,
		result:    make(chan jobResult, 1),
	}
	if job.req.OutputTemplate == "" {
		job.req.OutputTemplate = filepath.Join(e.downloadDir, fmt.Sprintf("video_%d_%s.%%(ext)s", req.UserID, job.ID))
	}
	if job.req.CookiesPath == "" {
		job.req.CookiesPath = e.cookiesPath
	}
	if job.req.CookiesPath != "" && !fileExists(job.req.CookiesPath) {
		job.req.CookiesPath = ""
	}

	select {
	case <-e.ctx.Done():
		return nil, &ExtractionError{URL: req.URL, Err: ErrQueueStopped}
	default:
	}

	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{URL: req.URL, Err: err}
	}

	select {
	case e.slots <- struct{}{}:
	default:
		log.Warnf("⚠️ Очередь загрузок переполнена, отклоняю %s", req.URL)
		return nil, &ExtractionError{URL: req.URL, Err: ErrQueueFull}
	}
	// буфер jobs равен числу мест, отправка не блокируется
	e.jobs <- job
	log.Debugf("📝 Задача добавлена в очередь: %s (%s)", job.ID, req.URL)

	select {
	case r := <-job.result:
		return r.res, r.err
	case <-ctx.Done():
		return nil, &ExtractionError{URL: req.URL, Err: ctx.Err()}
	case <-e.ctx.Done():
		return nil, &ExtractionError{URL: req.URL, Err: ErrQueueStopped}
	}
}

// Stats возвращает статистику пула
func (e *DownloadExecutor) Stats() QueueStats {
	e.activeJobsMux.RLock()
	defer e.activeJobsMux.RUnlock()

	return QueueStats{
		Workers: e.workers,
		Active:  len(e.activeJobs),
		Queued:  len(e.jobs),
	}
}

// worker обрабатывает задачи из очереди
func (e *DownloadExecutor) worker(workerID int) {
	defer e.wg.Done()

	log.Debugf("👷 Воркер %d запущен", workerID)
	for {
		select {
		case job := <-e.jobs:
			if job.ctx.Err() != nil {
				// отправитель уже не ждет результата
				<-e.slots
				job.result <- jobResult{err: &ExtractionError{URL: job.req.URL, Err: job.ctx.Err()}}
				continue
			}

			e.activeJobsMux.Lock()
			job.Status = JobStatusProcessing
			e.activeJobs[job.ID] = job
			e.activeJobsMux.Unlock()

			res, err := e.processJob(workerID, job)

			e.activeJobsMux.Lock()
			delete(e.activeJobs, job.ID)
			e.activeJobsMux.Unlock()

			// место освобождается до ответа
			<-e.slots
			job.result <- jobResult{res: res, err: err}

		case <-e.ctx.Done():
			log.Debugf("👷 Воркер %d остановлен", workerID)
			return
		}
	}
}

// processJob скачивает видео одной задачи
func (e *DownloadExecutor) processJob(workerID int, job *downloadJob) (res *FetchResult, err error) {
	log.Infof("🔄 Воркер %d обрабатывает задачу %s: %s", workerID, job.ID, job.req.URL)
	started := time.Now()

	ctx, cancel := context.WithTimeout(job.ctx, e.timeout)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{URL: job.req.URL, Err: fmt.Errorf("паника экстрактора: %v", r)}
		}
		if err != nil {
			e.cleanupPartial(job.req.OutputTemplate)
		}
	}()

	extracted, err := e.extractor.Extract(ctx, job.req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && job.ctx.Err() == nil {
			err = fmt.Errorf("превышено время скачивания (%v): %w", e.timeout, err)
		}
		log.Errorf("❌ Задача %s: ошибка загрузки: %v", job.ID, err)
		return nil, &ExtractionError{URL: job.req.URL, Err: err}
	}

	path := normalizeMP4(extracted.FilePath)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ExtractionError{URL: job.req.URL, Err: fmt.Errorf("скачанный файл недоступен: %w", err)}
	}

	res = &FetchResult{
		JobID:    job.ID,
		FilePath: path,
		Size:     info.Size(),
		Metadata: extracted.Metadata,
		Elapsed:  time.Since(started),
	}
	log.Infof("✅ Задача %s: загрузка завершена за %v: %s", job.ID, res.Elapsed.Round(time.Millisecond), filepath.Base(path))
	return res, nil
}

// cleanupPartial удаляет все файлы задачи, оставшиеся после неудачной загрузки
func (e *DownloadExecutor) cleanupPartial(template string) {
	prefix := templatePrefix(template)
	if prefix == "" {
		return
	}
	matches, err := filepath.Glob(globEscape(prefix) + "*")
	if err != nil {
		return
	}
	for _, match := range matches {
		if err := os.Remove(match); err == nil {
			log.Debugf("🧹 Удален частичный файл: %s", filepath.Base(match))
		}
	}
}

// normalizeMP4 дает файлу расширение .mp4. При ошибке остается исходный путь.
func normalizeMP4(path string) string {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".mp4") {
		return path
	}

	renamed := strings.TrimSuffix(path, ext) + ".mp4"
	if err := os.Rename(path, renamed); err != nil {
		log.Warnf("⚠️ Не удалось переименовать %s в mp4: %v", filepath.Base(path), err)
		return path
	}
	return renamed
}
