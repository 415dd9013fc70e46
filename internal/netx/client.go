package netx

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"clipBot/config"
)

// NewHTTPClient создает клиент, который ходит через прокси из настроек
// и обходит его для локальных адресов и NO_PROXY.
func NewHTTPClient(p *config.ProxyConfig, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseDialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		DialContext:         baseDialer.DialContext,
		ForceAttemptHTTP2:   true,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	}

	if p == nil || !p.UseProxy {
		return &http.Client{Transport: tr, Timeout: timeout}, nil
	}

	proxyURL, err := p.URL()
	if err != nil {
		return nil, err
	}

	switch proxyURL.Scheme {
	case "http", "https":
		tr.Proxy = func(req *http.Request) (*url.URL, error) {
			if p.ShouldProxy(req.URL.Hostname()) {
				return proxyURL, nil
			}
			return nil, nil
		}
	default:
		// SOCKS5: socks5h оставляет резолв имени прокси-серверу
		socks, err := xproxy.FromURL(proxyURL, baseDialer)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания SOCKS5 клиента: %w", err)
		}
		contextDialer, ok := socks.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 клиент не поддерживает контекст")
		}
		tr.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(address)
			if !p.ShouldProxy(host) {
				return baseDialer.DialContext(ctx, network, address)
			}
			return contextDialer.DialContext(ctx, network, address)
		}
	}

	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// NewDirectHTTPClient создает клиент гарантированно без прокси
func NewDirectHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext:       (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2: true,
		},
		Timeout: timeout,
	}
}
