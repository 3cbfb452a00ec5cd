package scraper

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rigflip/config"
	"rigflip/identity"
	"rigflip/models"
)

var ErrUnknownSite = errors.New("unknown site")

var (
	priceRegex     = regexp.MustCompile(`\d[\d,]*(?:\.\d{1,2})?`)
	intelCPURegex  = regexp.MustCompile(`(?i)\b(i[3579])[- ]?(\d{4,5})([a-z]{0,2})\b`)
	ryzenCPURegex  = regexp.MustCompile(`(?i)\bryzen\s*([3579])\s*(\d{4})(x3d|xt|x|g)?\b`)
	nvidiaGPURegex = regexp.MustCompile(`(?i)\b(rtx|gtx)\s*(\d{3,4})\s*(ti|super)?\b`)
	amdGPURegex    = regexp.MustCompile(`(?i)\brx\s*(\d{3,4})\s*(xtx|xt)?\b`)
)

// knownKeywords are the phrases worth tagging a listing with.
var knownKeywords = []string{
	"gaming", "rgb", "water cooled", "liquid cooled", "aio", "ssd", "nvme",
	"wifi", "monitor", "keyboard", "mouse", "bundle", "must go", "moving",
	"obo", "firm", "negotiable", "upgraded", "brand new", "like new", "not working",
}

// Parser extracts listings from one site's search result HTML.
type Parser struct {
	site *config.SiteConfig
	now  func() time.Time
}

func NewParser(site *config.SiteConfig) *Parser {
	return &Parser{site: site, now: time.Now}
}

func (p *Parser) SiteID() string { return p.site.ID }

// WaitSelector is the element a browser should wait for before reading
// the page.
func (p *Parser) WaitSelector() string {
	if p.site.WaitFor != "" {
		return p.site.WaitFor
	}
	return p.site.Selectors.Card
}

// Parse reads a result page. pageURL resolves relative links.
func (p *Parser) Parse(r io.Reader, pageURL string) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	sel := p.site.Selectors
	now := p.now()
	var listings []models.Listing
	doc.Find(sel.Card).Each(func(i int, card *goquery.Selection) {
		title := text(card, sel.Title)
		if title == "" {
			return
		}
		listing := models.Listing{
			Title:       title,
			Description: text(card, sel.Description),
			Location:    text(card, sel.Location),
			Seller:      text(card, sel.Seller),
			Site:        p.site.ID,
			ScrapedAt:   now,
		}
		listing.Price, _ = ParsePrice(text(card, sel.Price))
		listing.URL = resolveLink(base, card, sel.Link)

		haystack := listing.Title + " " + listing.Description
		listing.CPUModel = DetectCPU(haystack)
		listing.GPUModel = DetectGPU(haystack)
		listing.Keywords = DetectKeywords(haystack)
		listing.ID = identity.Fingerprint(&listing)

		listings = append(listings, listing)
	})
	return listings, nil
}

func text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(card.Find(selector).First().Text()), " ")
}

func resolveLink(base *url.URL, card *goquery.Selection, selector string) string {
	link := card
	if selector != "" {
		link = card.Find(selector).First()
	}
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// ParsePrice reads the first number in a price label such as "$1,299.99".
// It reports false when the label has no number ("Please contact").
func ParsePrice(label string) (float64, bool) {
	m := priceRegex.FindString(label)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DetectCPU returns a canonical CPU model like "i7-9700K" or "Ryzen 5 3600".
func DetectCPU(s string) string {
	if m := intelCPURegex.FindStringSubmatch(s); m != nil {
		return strings.ToLower(m[1]) + "-" + m[2] + strings.ToUpper(m[3])
	}
	if m := ryzenCPURegex.FindStringSubmatch(s); m != nil {
		return "Ryzen " + m[1] + " " + m[2] + strings.ToUpper(m[3])
	}
	return ""
}

// DetectGPU returns a canonical GPU model like "RTX 3070" or "GTX 1080 Ti".
func DetectGPU(s string) string {
	if m := nvidiaGPURegex.FindStringSubmatch(s); m != nil {
		model := strings.ToUpper(m[1]) + " " + m[2]
		switch strings.ToLower(m[3]) {
		case "ti":
			model += " Ti"
		case "super":
			model += " Super"
		}
		return model
	}
	if m := amdGPURegex.FindStringSubmatch(s); m != nil {
		model := "RX " + m[1]
		if m[2] != "" {
			model += " " + strings.ToUpper(m[2])
		}
		return model
	}
	return ""
}

// DetectKeywords lists the known keywords present in s, in list order.
func DetectKeywords(s string) []string {
	lower := strings.ToLower(s)
	var out []string
	for _, kw := range knownKeywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// Registry holds a parser per configured site.
type Registry struct {
	parsers map[string]*Parser
}

func NewRegistry(sites map[string]*config.SiteConfig) *Registry {
	r := &Registry{parsers: make(map[string]*Parser, len(sites))}
	for id, site := range sites {
		r.parsers[id] = NewParser(site)
	}
	return r
}

func (r *Registry) Parser(site string) (*Parser, error) {
	p, ok := r.parsers[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	return p, nil
}
