package netx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipBot/config"
)

func TestNewHTTPClientWithoutProxy(t *testing.T) {
	client, err := NewHTTPClient(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, client.Timeout)

	tr := client.Transport.(*http.Transport)
	assert.Nil(t, tr.Proxy)
}

func TestNewHTTPClientHTTPProxy(t *testing.T) {
	p := &config.ProxyConfig{UseProxy: true, ProxyURL: "http://proxy.local:3128"}
	client, err := NewHTTPClient(p, time.Minute)
	require.NoError(t, err)

	tr := client.Transport.(*http.Transport)
	require.NotNil(t, tr.Proxy)

	external, _ := http.NewRequest(http.MethodGet, "https://www.tiktok.com/", nil)
	proxyURL, err := tr.Proxy(external)
	require.NoError(t, err)
	assert.Equal(t, "proxy.local:3128", proxyURL.Host)

	local, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:8081/", nil)
	proxyURL, err = tr.Proxy(local)
	require.NoError(t, err)
	assert.Nil(t, proxyURL)
}

func TestSOCKSClientBypassesLocalAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	// прокси недоступен, но локальный адрес должен идти напрямую
	p := &config.ProxyConfig{UseProxy: true, ProxyURL: "socks5h://127.0.0.1:1"}
	client, err := NewHTTPClient(p, 5*time.Second)
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestNewHTTPClientRejectsBadProxy(t *testing.T) {
	_, err := NewHTTPClient(&config.ProxyConfig{UseProxy: true, ProxyURL: "ftp://x:21"}, 0)
	assert.Error(t, err)
}

func TestNewDirectHTTPClient(t *testing.T) {
	client := NewDirectHTTPClient(0)
	assert.Equal(t, 60*time.Second, client.Timeout)
	assert.Nil(t, client.Transport.(*http.Transport).Proxy)
}
