package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigflip/config"
)

func TestNewClientsUsesProxy(t *testing.T) {
	c := NewClients(&config.ProxyConfig{URL: "http://proxy.local:8080"})

	transport, ok := c.Scraping.Transport.(*http.Transport)
	require.True(t, ok)

	req, _ := http.NewRequest(http.MethodGet, "https://www.kijiji.ca/b-desktop-computers", nil)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	require.NotNil(t, proxyURL)
	assert.Equal(t, "proxy.local:8080", proxyURL.Host)
}

func TestNewClientsWithoutProxy(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("HTTP_PROXY", "")

	c := NewClients(&config.ProxyConfig{})
	assert.NotNil(t, c.API)
	assert.NotNil(t, c.Scraping.Transport)
}

func TestScrapingClientFollowsSearchRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b-desktop-computers":
			http.Redirect(w, r, "/b-desktop-computers/ontario", http.StatusFound)
		case "/b-desktop-computers/ontario":
			w.WriteHeader(http.StatusOK)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		}
	}))
	defer srv.Close()

	c := NewClients(&config.ProxyConfig{})
	c.Scraping.Transport.(*http.Transport).Proxy = nil

	resp, err := c.Scraping.Get(srv.URL + "/b-desktop-computers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/b-desktop-computers/ontario", resp.Request.URL.Path)

	_, err = c.Scraping.Get(srv.URL + "/loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 5 redirects")
}

func TestScrapingClientStopsAtLoginWall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			http.Redirect(w, r, "/t-login.html?targetUrl=%2Fsearch", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClients(nil)
	c.Scraping.Transport.(*http.Transport).Proxy = nil

	_, err := c.Scraping.Get(srv.URL + "/search")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
}
