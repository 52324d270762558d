// Package scrape reads the public agenda page with headless Chromium.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

const (
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultTimeoutSec = 90
	DefaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultDay        = "Martes 23"

	selectorWait = 10 * time.Second
)

// Selectors tried in order while waiting for the agenda to render. The page
// is scraped anyway if none shows up.
var readySelectors = []string{`.agenda-full`, `[class*="agenda"]`}

// scrollJS scrolls to the bottom in 100px steps so lazily rendered cards
// are in the DOM before extraction.
const scrollJS = `new Promise((resolve) => {
	let total = 0;
	const step = 100;
	const timer = setInterval(() => {
		const height = document.body.scrollHeight;
		window.scrollBy(0, step);
		total += step;
		if (total >= height) {
			clearInterval(timer);
			resolve(true);
		}
	}, 100);
})`

const extractJS = `(() => {
	const dayRe = /(Lunes|Martes|Miércoles|Jueves|Viernes|Sábado|Domingo)\s+(\d{1,2})/;
	return Array.from(document.querySelectorAll('.bar.bar-small-card')).map((el) => {
		const link = el.querySelector('a[href]');
		const column = el.closest('.agendra-flex-dia');
		const m = column ? (column.textContent || '').match(dayRe) : null;
		return {
			text: el.textContent || '',
			href: link ? (link.getAttribute('href') || '') : '',
			day: m ? m[0] : '',
		};
	});
})()`

// Options defines how the agenda page is scraped. Zero values select the
// defaults above.
type Options struct {
	// URL of the agenda page, e.g. "https://nerdear.la/agenda/".
	URL string

	Width  int
	Height int

	UserAgent string

	// DefaultDay labels cards found outside any day column.
	DefaultDay string

	// Timeout bounds the entire scrape, browser start included.
	Timeout time.Duration
}

// Scraper is an event source backed by a fresh headless browser per fetch.
type Scraper struct {
	opts Options
	base *url.URL
	log  appLog.Logger
}

func New(opts Options) (*Scraper, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("scrape: URL is required")
	}
	base, err := url.Parse(opts.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("scrape: invalid URL %q", opts.URL)
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.DefaultDay == "" {
		opts.DefaultDay = DefaultDay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return &Scraper{opts: opts, base: base, log: appLog.Named("scrape")}, nil
}

// FetchEvents launches Chromium, loads the agenda, scrolls it fully and
// extracts every talk card.
func (s *Scraper) FetchEvents(parentCtx context.Context) ([]model.Talk, error) {
	cards, err := s.fetchCards(parentCtx)
	if err != nil {
		return nil, err
	}
	talks := ParseCards(cards, s.base, s.opts.DefaultDay)
	s.log.Info("agenda scraped", "cards", len(cards), "talks", len(talks))
	return talks, nil
}

func (s *Scraper) fetchCards(parentCtx context.Context) ([]Card, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(s.opts.UserAgent),
		chromedp.WindowSize(s.opts.Width, s.opts.Height),
	)

	// Apply timeout to the entire scrape, browser start included.
	ctx, timeoutCancel := context.WithTimeout(parentCtx, s.opts.Timeout)
	defer timeoutCancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	s.log.Info("loading agenda", "url", s.opts.URL)
	if err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(s.opts.Width), int64(s.opts.Height)),
		chromedp.Navigate(s.opts.URL),
	); err != nil {
		return nil, fmt.Errorf("scrape: navigate failed: %w", err)
	}

	s.waitForAgenda(ctx)

	var scrolled bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(scrollJS, &scrolled, awaitPromise)); err != nil {
		return nil, fmt.Errorf("scrape: scroll failed: %w", err)
	}

	var cards []Card
	if err := chromedp.Run(ctx, chromedp.Evaluate(extractJS, &cards)); err != nil {
		return nil, fmt.Errorf("scrape: extract failed: %w", err)
	}
	return cards, nil
}

// waitForAgenda gives each ready selector a bounded chance to appear.
// Navigation already succeeded, so a miss only means a slower page.
func (s *Scraper) waitForAgenda(ctx context.Context) {
	for _, sel := range readySelectors {
		wctx, cancel := context.WithTimeout(ctx, selectorWait)
		err := chromedp.Run(wctx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	s.log.Warn("no agenda selector appeared; extracting anyway")
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
