package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"rigflip/config"
	"rigflip/httputil"
	"rigflip/models"
	"rigflip/scraper"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type fetch struct {
	url    string
	cancel context.CancelFunc
}

// HTTPGateway scans pages with plain GET requests. It suits marketplaces
// that render results server side and needs no browser.
type HTTPGateway struct {
	client  *http.Client
	parsers *scraper.Registry
	sites   map[string]*config.SiteConfig
	events  chan models.WorkerEvent
	done    chan struct{}

	mu       sync.Mutex
	fetches  map[string]*fetch
	nextID   int
	lastSent map[string]time.Time
}

func NewHTTPGateway(clients *httputil.Clients, sites map[string]*config.SiteConfig, parsers *scraper.Registry) *HTTPGateway {
	return &HTTPGateway{
		client:   clients.Scraping,
		parsers:  parsers,
		sites:    sites,
		events:   make(chan models.WorkerEvent, eventBuffer),
		done:     make(chan struct{}),
		fetches:  make(map[string]*fetch),
		lastSent: make(map[string]time.Time),
	}
}

func (g *HTTPGateway) Events() <-chan models.WorkerEvent {
	return g.events
}

func (g *HTTPGateway) Spawn(ctx context.Context, url string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	handle := fmt.Sprintf("http-%d", g.nextID)
	g.fetches[handle] = &fetch{url: url}
	return handle, nil
}

// Inject has nothing to install for a plain fetch.
func (g *HTTPGateway) Inject(ctx context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.fetches[handle]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return nil
}

func (g *HTTPGateway) Send(ctx context.Context, handle string, cmd models.StartScan) error {
	parser, err := g.parsers.Parser(cmd.Site)
	if err != nil {
		return err
	}

	g.mu.Lock()
	f, ok := g.fetches[handle]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	fetchCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	wait := g.reserveSlotLocked(cmd.Site)
	g.mu.Unlock()

	go g.run(fetchCtx, handle, f.url, parser, wait)
	return nil
}

// reserveSlotLocked spaces requests to one site by its configured rate
// limit and returns how long this request must wait.
func (g *HTTPGateway) reserveSlotLocked(site string) time.Duration {
	cfg, ok := g.sites[site]
	if !ok || cfg.RateLimitMS <= 0 {
		return 0
	}
	now := time.Now()
	next := g.lastSent[site].Add(time.Duration(cfg.RateLimitMS) * time.Millisecond)
	if next.Before(now) {
		next = now
	}
	g.lastSent[site] = next
	return next.Sub(now)
}

func (g *HTTPGateway) run(ctx context.Context, handle, url string, parser *scraper.Parser, wait time.Duration) {
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	listings, err := g.get(ctx, url, parser)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		g.emit(handle, models.WorkerEvent{Handle: handle, Err: err})
		return
	}
	g.emit(handle, models.WorkerEvent{Handle: handle, Listings: listings})
}

func (g *HTTPGateway) get(ctx context.Context, url string, parser *scraper.Parser) ([]models.Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return parser.Parse(resp.Body, resp.Request.URL.String())
}

func (g *HTTPGateway) emit(handle string, ev models.WorkerEvent) {
	g.mu.Lock()
	_, live := g.fetches[handle]
	g.mu.Unlock()
	if !live {
		return
	}
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func (g *HTTPGateway) Terminate(ctx context.Context, handle string) error {
	g.mu.Lock()
	f, ok := g.fetches[handle]
	delete(g.fetches, handle)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (g *HTTPGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
	default:
		close(g.done)
	}
	for handle, f := range g.fetches {
		if f.cancel != nil {
			f.cancel()
		}
		delete(g.fetches, handle)
	}
}
