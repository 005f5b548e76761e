package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/scheduler"
	"github.com/waylight/kestrel/internal/types"
)

// BrowserFetcher implements scheduler.Fetcher using a headless browser via
// Rod, with optional stealth patches. Grounded on the teacher's
// internal/fetcher/browser.go and stealth.go.
type BrowserFetcher struct {
	browser  *rod.Browser
	cfg      *config.BrowserConfig
	logger   *slog.Logger
	mu       sync.Mutex
	pagePool chan *rod.Page
	maxPages int
}

// NewBrowserFetcher launches a headless Chromium instance and returns a
// fetcher bound to it.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:      &cfg.Browser,
		logger:   logger.With("component", "browser_fetcher"),
		maxPages: cfg.Scheduler.MaxWorkers,
	}
	if bf.maxPages <= 0 {
		bf.maxPages = 4
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("fetch: launching browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connecting to browser: %w", err)
	}

	bf.browser = browser
	bf.pagePool = make(chan *rod.Page, bf.maxPages)

	bf.logger.Info("browser fetcher ready", "max_pages", bf.maxPages, "stealth", bf.cfg.Stealth)
	return bf, nil
}

func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bf.cfg.Viewport != "" {
		l = l.Set("window-size", bf.cfg.Viewport)
	}
	return l.Launch()
}

// Execute satisfies scheduler.Fetcher. Sub-resources the page loads while
// navigating are collected as incidental requests (spec §6.1's
// browser-driven mode): every non-document response Rod observes before the
// page settles is reported back on the FetchResult.
func (bf *BrowserFetcher) Execute(ctx context.Context, req *types.Request) (*scheduler.FetchResult, error) {
	page, err := bf.getPage()
	if err != nil {
		return nil, &types.TransientError{Message: fmt.Sprintf("acquiring browser page for %s: %v", req.URL, err)}
	}
	defer bf.putPage(page)

	if bf.cfg.Stealth {
		page, err = stealth.Page(bf.browser)
		if err != nil {
			return nil, &types.TransientError{Message: fmt.Sprintf("applying stealth patches for %s: %v", req.URL, err)}
		}
	}

	if ua := bf.cfg.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bf.logger.Warn("failed to set user agent", "error", err)
		}
	}
	if len(req.Headers) > 0 {
		headers := make([]string, 0, len(req.Headers)*2)
		for k, vals := range req.Headers {
			for _, v := range vals {
				headers = append(headers, k, v)
			}
		}
		if _, err := page.SetExtraHeaders(headers); err != nil {
			bf.logger.Warn("failed to set extra headers", "error", err)
		}
	}

	var incidentals []*types.IncidentalRequest
	stopWatching := bf.watchIncidentals(page, req.ID, &incidentals)
	defer stopWatching()

	timeout := 30 * time.Second
	if err := page.Context(ctx).Timeout(timeout).Navigate(req.URL); err != nil {
		return nil, &types.TransientError{Message: fmt.Sprintf("navigating to %s: %v", req.URL, err)}
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", req.URL, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.TransientError{Message: fmt.Sprintf("reading page HTML for %s: %v", req.URL, err)}
	}

	finalURL := req.URL
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	bf.logger.Debug("browser fetch complete", "url", req.URL, "final_url", finalURL, "size", len(html), "incidentals", len(incidentals))

	return &scheduler.FetchResult{
		StatusCode:  200, // Rod does not surface the navigating document's own status code
		FinalURL:    finalURL,
		Body:        []byte(html),
		Incidentals: incidentals,
	}, nil
}

// watchIncidentals subscribes to network response events for the page's
// lifetime and appends every sub-resource load to out. The returned func
// must be called once navigation completes to stop the listener.
func (bf *BrowserFetcher) watchIncidentals(page *rod.Page, parentID int64, out *[]*types.IncidentalRequest) func() {
	var mu sync.Mutex
	stop := page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type == proto.NetworkResourceTypeDocument {
			return
		}
		status := int(e.Response.Status)
		mu.Lock()
		*out = append(*out, &types.IncidentalRequest{
			ParentRequestID: parentID,
			ResourceType:    string(e.Type),
			Method:          "GET",
			URL:             e.Response.URL,
			StatusCode:      &status,
		})
		mu.Unlock()
	})
	return stop
}

// Close shuts down the browser.
func (bf *BrowserFetcher) Close() error {
	close(bf.pagePool)
	for page := range bf.pagePool {
		_ = page.Close()
	}
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	select {
	case page := <-bf.pagePool:
		return page, nil
	default:
		return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
}

func (bf *BrowserFetcher) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
