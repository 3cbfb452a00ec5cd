package httputil

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rigflip/config"
)

// ErrBlocked reports that a marketplace redirected a search to a sign-in
// or bot-check page instead of results.
var ErrBlocked = errors.New("redirected to a blocking page")

const (
	scrapingTimeout = 15 * time.Second
	apiTimeout      = 30 * time.Second
	maxRedirects    = 5
)

// blockingPaths are path prefixes marketplaces send scrapers to.
var blockingPaths = []string{"/login", "/signin", "/t-login", "/captcha", "/checkpoint", "/verify", "/blocked"}

type Clients struct {
	Scraping *http.Client // marketplace search pages, proxied when configured
	API      *http.Client // webhooks
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	proxy := http.ProxyFromEnvironment
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			proxy = http.ProxyURL(proxyURL)
		}
	}

	// HTTP/1.1 only; several marketplaces fingerprint h2 clients.
	transport := &http.Transport{
		Proxy:                 proxy,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost:   2,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:       scrapingTimeout,
			Transport:     transport,
			CheckRedirect: followListingRedirect,
		},
		API: &http.Client{Timeout: apiTimeout},
	}
}

// followListingRedirect follows the canonicalizing redirects search pages
// issue (region, sort order) and stops on a sign-in or bot wall.
func followListingRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	path := strings.ToLower(req.URL.Path)
	for _, prefix := range blockingPaths {
		if strings.HasPrefix(path, prefix) {
			return fmt.Errorf("%w: %s", ErrBlocked, req.URL.Redacted())
		}
	}
	return nil
}
