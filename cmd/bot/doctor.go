package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"clipBot/config"
	"clipBot/handlers"
	"clipBot/internal/netx"
	"clipBot/services"
)

type checkResult struct {
	name   string
	ok     bool
	detail string
}

// runDoctor проверяет окружение бота и печатает сводную таблицу
func runDoctor(cmd *cobra.Command, _ []string) error {
	fmt.Println("🧪 Самопроверка бота")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	var results []checkResult
	add := func(name string, err error, detail string) {
		results = append(results, newCheck(name, err, detail))
	}

	if cfg.Proxy.UseProxy {
		add("Прокси", nil, cfg.Proxy.ProxyURL)
	} else {
		add("Прокси", nil, "отключен, прямое подключение")
	}

	ytdlp := services.NewYtDlpExtractor(cfg.YtDlpPath, cfg.Proxy.YtDlpArgs())
	version, err := ytdlp.Version(ctx)
	add("yt-dlp", err, fmt.Sprintf("%s (%s)", version, ytdlp.Binary()))

	httpClient, err := netx.NewHTTPClient(&cfg.Proxy, 30*time.Second)
	if err != nil {
		add("HTTP клиент", err, "")
	} else {
		var direct *http.Client
		if cfg.Proxy.UseProxy {
			direct = netx.NewDirectHTTPClient(30 * time.Second)
		}
		results = append(results, checkNetwork(ctx, httpClient, direct, doctorTargets)...)

		api, err := handlers.NewBotAPI(cfg.TelegramToken, cfg.TelegramAPI, httpClient)
		detail := ""
		if err == nil {
			detail = "@" + api.Self.UserName
		}
		add("Telegram Bot API", err, detail)
	}

	store, err := openStateStore(cfg)
	if err != nil {
		add("Хранилище ("+cfg.StateBackend+")", err, "")
	} else {
		st := store.Stats()
		add("Хранилище ("+cfg.StateBackend+")", nil,
			fmt.Sprintf("%d пользователей, %d банов, лимит %d/мин", st.Users, st.Banned, st.Operator.LimitPerMinute))
		store.Close()
	}

	for _, dir := range []string{cfg.DownloadDir, cfg.CacheDir, cfg.DataDir} {
		add("Папка "+dir, checkWritable(dir), "доступна для записи")
	}

	if _, err := os.Stat(cfg.CookiesFile); err == nil {
		add("Cookies", nil, cfg.CookiesFile)
	} else {
		add("Cookies", nil, "файл не найден, скачивание без авторизации")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Проверка", "", "Детали"})
	failed := 0
	for _, r := range results {
		mark := "✅"
		if !r.ok {
			mark = "❌"
			failed++
		}
		t.AppendRow(table.Row{r.name, mark, r.detail})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("проверок с ошибками: %d", failed)
	}
	fmt.Println("🎉 Самопроверка завершена!")
	return nil
}

var doctorTargets = []string{"https://www.youtube.com", "https://www.tiktok.com"}

func newCheck(name string, err error, detail string) checkResult {
	if err != nil {
		detail = err.Error()
	}
	return checkResult{name: name, ok: err == nil, detail: detail}
}

// checkNetwork проверяет цели через основной клиент. Если задан direct,
// цели проверяются и без прокси; недоступность напрямую ошибкой не считается.
func checkNetwork(ctx context.Context, client, direct *http.Client, targets []string) []checkResult {
	var results []checkResult
	for _, target := range targets {
		status, err := probe(ctx, client, target)
		results = append(results, newCheck("Сеть "+target, err, status))

		if direct == nil {
			continue
		}
		status, err = probe(ctx, direct, target)
		if err != nil {
			status = "недоступно: " + err.Error()
		}
		results = append(results, checkResult{name: "Напрямую " + target, ok: true, detail: status})
	}
	return results
}

func probe(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Status, nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
