package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// ProxyConfig содержит настройки прокси
type ProxyConfig struct {
	UseProxy bool     `envconfig:"USE_PROXY" default:"false"`
	ProxyURL string   `envconfig:"PROXY_URL" default:"socks5h://127.0.0.1:1080"`
	NoProxy  []string `envconfig:"NO_PROXY" default:"localhost,127.0.0.1,172.16.0.0/12,192.168.0.0/16"`
}

// LoadProxyConfig загружает конфигурацию прокси из переменных окружения
func LoadProxyConfig() (*ProxyConfig, error) {
	var p ProxyConfig
	if err := envconfig.Process("", &p); err != nil {
		return nil, fmt.Errorf("ошибка разбора настроек прокси: %w", err)
	}
	if p.UseProxy {
		if _, err := p.URL(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// URL разбирает адрес прокси
func (p *ProxyConfig) URL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(p.ProxyURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("некорректный PROXY_URL: %q", p.ProxyURL)
	}
	switch u.Scheme {
	case "socks5", "socks5h", "http", "https":
		return u, nil
	default:
		return nil, fmt.Errorf("неподдерживаемая схема прокси: %s", u.Scheme)
	}
}

// YtDlpArgs возвращает аргументы прокси для yt-dlp
func (p *ProxyConfig) YtDlpArgs() []string {
	if !p.UseProxy {
		return nil
	}
	return []string{"--proxy", p.ProxyURL}
}

// ShouldProxy проверяет, нужно ли проксировать указанный хост.
// Локальные и приватные адреса всегда идут напрямую.
func (p *ProxyConfig) ShouldProxy(host string) bool {
	if !p.UseProxy {
		return false
	}

	host = strings.ToLower(strings.TrimSpace(host))
	if host == "localhost" {
		return false
	}
	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return false
	}

	for _, token := range p.NoProxy {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		// точные хосты/домены
		if host == token || strings.HasSuffix(host, "."+token) {
			return false
		}
		if ip != nil {
			if _, cidr, err := net.ParseCIDR(token); err == nil && cidr.Contains(ip) {
				return false
			}
		}
	}
	return true
}
