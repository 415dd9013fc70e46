package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"clipBot/config"
	"clipBot/handlers"
	"clipBot/internal/netx"
	"clipBot/services"
	"clipBot/utils"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "clipbot",
		Short:         "Telegram бот для скачивания коротких видео",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "config.env", "файл с переменными окружения")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Запустить бота",
		RunE:  runBot,
	})
	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Проверить yt-dlp, сеть, Telegram и хранилище",
		RunE:  runDoctor,
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("❌ Команда завершилась с ошибкой")
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	logCloser, err := utils.SetupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cfg.AdminID == 0 {
		log.Warnf("⚠️ ADMIN_ID не задан, команды администратора недоступны")
	}

	httpClient, err := netx.NewHTTPClient(&cfg.Proxy, cfg.HTTPTimeout)
	if err != nil {
		return err
	}

	store, err := openStateStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Save(); err != nil {
			log.Warnf("⚠️ Не удалось сохранить состояние при выходе: %v", err)
		}
		store.Close()
	}()

	platforms, err := services.ParsePlatforms(cfg.Platforms)
	if err != nil {
		return err
	}
	detector := services.NewPlatformDetector(platforms...)

	ytdlp := services.NewYtDlpExtractor(cfg.YtDlpPath, cfg.Proxy.YtDlpArgs())
	if version, err := ytdlp.Version(cmd.Context()); err != nil {
		log.Warnf("⚠️ %v", err)
	} else {
		log.Infof("✅ yt-dlp доступен: %s", version)
	}

	executor, err := services.NewDownloadExecutor(services.ExecutorOptions{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		Timeout:     cfg.DownloadTimeout,
		DownloadDir: cfg.DownloadDir,
		CookiesPath: cfg.CookiesFile,
	}, buildExtractor(cfg.Extractor, ytdlp, httpClient))
	if err != nil {
		return err
	}
	executor.Start()
	defer executor.Stop()

	var cache *services.ArtifactCache
	if cfg.CacheEnabled() {
		if cache, err = services.NewArtifactCache(cfg.CacheDir, cfg.MaxCacheFiles); err != nil {
			return err
		}
	} else {
		log.Infof("ℹ️ Кэш видео отключен (MAX_CACHE_FILES=0)")
	}

	api, err := handlers.NewBotAPI(cfg.TelegramToken, cfg.TelegramAPI, httpClient)
	if err != nil {
		return fmt.Errorf("не удалось подключиться к Telegram Bot API: %w", err)
	}
	log.Infof("✅ Бот успешно подключен: @%s", api.Self.UserName)

	sender := handlers.NewSender(api)
	reporter := services.NewErrorReporter(cfg.ErrorBuffer, cfg.AdminID, sender)
	limiter := services.NewRateLimiter(store.LimitPerMinute)

	pipeline, err := services.NewPipeline(services.Deps{
		State:      store,
		Limiter:    limiter,
		Cache:      cache,
		Fetcher:    executor,
		Delivery:   services.NewDeliveryGateway(sender, cfg.MaxUploadBytes()),
		Reporter:   reporter,
		Detector:   detector,
		OperatorID: cfg.AdminID,
		Progress:   cfg.ProgressReplies,
	})
	if err != nil {
		return err
	}

	admin := services.NewAdmin(services.AdminDeps{
		State:         store,
		Reporter:      reporter,
		Messenger:     sender,
		Cache:         cache,
		Queue:         executor,
		Detector:      detector,
		OperatorID:    cfg.AdminID,
		BroadcastRate: cfg.BroadcastRate,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepRateWindows(ctx, limiter)

	log.Infof("🎬 Бот готов к работе! Платформы: %v", platforms)
	return handlers.NewTelegramHandler(api, sender, pipeline, admin).Run(ctx)
}

func openStateStore(cfg *config.Config) (*services.StateStore, error) {
	var (
		persister services.Persister
		err       error
	)
	switch cfg.StateBackend {
	case "json":
		persister, err = services.NewJSONPersister(cfg.DataDir)
	default:
		persister, err = services.NewSQLitePersister(cfg.StateDBPath())
	}
	if err != nil {
		return nil, err
	}

	store, err := services.OpenStateStore(persister, cfg.DefaultLimit)
	if err != nil {
		persister.Close()
		return nil, err
	}
	return store, nil
}

// buildExtractor собирает экстрактор: yt-dlp для всех платформ,
// YouTube Shorts может качаться встроенным клиентом
func buildExtractor(mode string, ytdlp *services.YtDlpExtractor, httpClient *http.Client) services.Extractor {
	native := services.NewYouTubeExtractor(httpClient)
	switch mode {
	case "ytdlp":
		return ytdlp
	case "native":
		return services.NewPlatformRouter(ytdlp).Route(services.PlatformYouTubeShorts, native)
	default:
		return services.NewPlatformRouter(ytdlp).
			Route(services.PlatformYouTubeShorts, services.NewFallbackExtractor(native, ytdlp))
	}
}

func sweepRateWindows(ctx context.Context, limiter *services.RateLimiter) {
	ticker := time.NewTicker(services.RateWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := limiter.Sweep(); removed > 0 {
				log.Debugf("🧹 Удалено %d неактивных окон лимита", removed)
			}
		}
	}
}
