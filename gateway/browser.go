// Package gateway provides the workers the scheduler dispatches scans to:
// browser tabs driven through playwright, or plain HTTP fetches.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"rigflip/config"
	"rigflip/models"
	"rigflip/scraper"
)

var log = logrus.WithField("component", "gateway")

var ErrUnknownHandle = errors.New("unknown worker handle")

const (
	navigationTimeout = 60 * time.Second
	resultsTimeout    = 30 * time.Second
	eventBuffer       = 64
)

// injectScript marks the tab as driven and stubs the webdriver flag some
// marketplaces check before rendering results.
const injectScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	window.__rigflip = { injectedAt: Date.now() };
	return true;
}`

var consentSelectors = []string{
	"button:has-text('Accept')",
	"button:has-text('Accept All')",
	"button:has-text('I Accept')",
	"button:has-text('Agree')",
	"button[id*='accept']",
	"button[class*='consent']",
	"#didomi-notice-agree-button",
}

type tab struct {
	page       playwright.Page
	url        string
	terminated bool
}

// BrowserGateway opens one tab per scan job in a persistent Chromium
// profile so marketplace sessions and cookies survive restarts.
type BrowserGateway struct {
	cfg     config.BrowserConfig
	parsers *scraper.Registry
	events  chan models.WorkerEvent
	done    chan struct{}

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
	tabs        map[string]*tab
	nextID      int
}

func NewBrowserGateway(cfg config.BrowserConfig, parsers *scraper.Registry) *BrowserGateway {
	return &BrowserGateway{
		cfg:     cfg,
		parsers: parsers,
		events:  make(chan models.WorkerEvent, eventBuffer),
		done:    make(chan struct{}),
		tabs:    make(map[string]*tab),
	}
}

func (g *BrowserGateway) Events() <-chan models.WorkerEvent {
	return g.events
}

func (g *BrowserGateway) ensureBrowserLocked() error {
	if g.initialized {
		return nil
	}

	var err error
	g.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	userDataDir := g.cfg.UserDataDir
	if !filepath.IsAbs(userDataDir) {
		cwd, _ := os.Getwd()
		userDataDir = filepath.Join(cwd, userDataDir)
	}
	g.context, err = g.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(g.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		g.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	g.initialized = true
	return nil
}

// Spawn opens a tab on url. Navigation errors are logged, not returned:
// slow pages often finish rendering results after the load event times out.
func (g *BrowserGateway) Spawn(ctx context.Context, url string) (string, error) {
	g.mu.Lock()
	if err := g.ensureBrowserLocked(); err != nil {
		g.mu.Unlock()
		return "", err
	}
	page, err := g.context.NewPage()
	if err != nil {
		g.mu.Unlock()
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	g.nextID++
	handle := fmt.Sprintf("tab-%d", g.nextID)
	t := &tab{page: page, url: url}
	g.tabs[handle] = t
	g.mu.Unlock()

	page.OnClose(func(playwright.Page) { g.closed(handle) })

	log.WithFields(logrus.Fields{"handle": handle, "url": url}).Debug("Opening tab")
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(navigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		log.WithError(err).WithField("handle", handle).Warn("Navigation error (continuing)")
	}
	return handle, nil
}

func (g *BrowserGateway) lookup(handle string) (*tab, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tabs[handle]
	if !ok || t.terminated {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return t, nil
}

func (g *BrowserGateway) Inject(ctx context.Context, handle string) error {
	t, err := g.lookup(handle)
	if err != nil {
		return err
	}
	if _, err := t.page.Evaluate(injectScript); err != nil {
		return fmt.Errorf("evaluate helper: %w", err)
	}
	handleConsent(t.page)
	return nil
}

// Send starts the scan in the background. The outcome arrives on Events.
func (g *BrowserGateway) Send(ctx context.Context, handle string, cmd models.StartScan) error {
	t, err := g.lookup(handle)
	if err != nil {
		return err
	}
	parser, err := g.parsers.Parser(cmd.Site)
	if err != nil {
		return err
	}
	go g.scan(handle, t, parser)
	return nil
}

func (g *BrowserGateway) scan(handle string, t *tab, parser *scraper.Parser) {
	page := t.page
	humanDelay(page, 500, 1500)
	simulateHumanBehavior(page)

	err := page.Locator(parser.WaitSelector()).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(resultsTimeout.Milliseconds())),
	})
	if err != nil {
		g.emit(handle, models.WorkerEvent{Handle: handle, Err: fmt.Errorf("waiting for results: %w", err)})
		return
	}

	content, err := page.Content()
	if err != nil {
		g.emit(handle, models.WorkerEvent{Handle: handle, Err: fmt.Errorf("read page: %w", err)})
		return
	}
	pageURL := page.URL()
	if pageURL == "" {
		pageURL = t.url
	}
	listings, err := parser.Parse(strings.NewReader(content), pageURL)
	if err != nil {
		g.emit(handle, models.WorkerEvent{Handle: handle, Err: err})
		return
	}
	g.emit(handle, models.WorkerEvent{Handle: handle, Listings: listings})
}

// emit drops events for tabs the scheduler already terminated.
func (g *BrowserGateway) emit(handle string, ev models.WorkerEvent) {
	g.mu.Lock()
	t, ok := g.tabs[handle]
	live := ok && !t.terminated
	g.mu.Unlock()
	if !live {
		return
	}
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func (g *BrowserGateway) closed(handle string) {
	g.mu.Lock()
	t, ok := g.tabs[handle]
	delete(g.tabs, handle)
	g.mu.Unlock()
	if !ok || t.terminated {
		return
	}
	log.WithField("handle", handle).Warn("Tab closed by the browser")
	select {
	case g.events <- models.WorkerEvent{Handle: handle, Gone: true}:
	case <-g.done:
	}
}

func (g *BrowserGateway) Terminate(ctx context.Context, handle string) error {
	g.mu.Lock()
	t, ok := g.tabs[handle]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	t.terminated = true
	delete(g.tabs, handle)
	g.mu.Unlock()
	return t.page.Close()
}

// Close shuts every tab and the browser.
func (g *BrowserGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.done:
	default:
		close(g.done)
	}
	for handle, t := range g.tabs {
		t.terminated = true
		t.page.Close()
		delete(g.tabs, handle)
	}
	if g.context != nil {
		g.context.Close()
	}
	if g.pw != nil {
		g.pw.Stop()
	}
	g.initialized = false
}

func simulateHumanBehavior(page playwright.Page) {
	page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))
	page.Mouse().Move(float64(400+rand.Intn(300)), float64(300+rand.Intn(200)))
	page.WaitForTimeout(float64(200 + rand.Intn(300)))

	scrollAmount := 100 + rand.Intn(300)
	page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, scrollAmount))
}

func humanDelay(page playwright.Page, minMs, maxMs int) {
	page.WaitForTimeout(float64(minMs + rand.Intn(maxMs-minMs)))
}

func handleConsent(page playwright.Page) {
	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			log.Debugf("Clicking consent button: %s", selector)
			btn.Click()
			page.WaitForTimeout(1000)
			break
		}
	}
}
