package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

const maxBodyBytes = 2 << 20

// LocalScraper fetches HTML via net/http and converts it with goquery. It
// does not run JavaScript; blocked or script-only pages fall through to the
// next scraper in the chain.
type LocalScraper struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	hostRPS  float64
}

// NewLocalScraper creates a LocalScraper. hostRPS limits requests per host;
// zero disables the limit.
func NewLocalScraper(opts Options, hostRPS float64) *LocalScraper {
	return &LocalScraper{
		client: &http.Client{
			Timeout: opts.PageTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		hostRPS:  hostRPS,
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

func (l *LocalScraper) limiter(host string) *rate.Limiter {
	if l.hostRPS <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.hostRPS), 1)
		l.limiters[host] = lim
	}
	return lim
}

// Scrape fetches a URL, detects blocks and converts the HTML.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*model.ScrapedPage, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return nil, resilience.Errorf(resilience.KindValidation, "local_http", "invalid url %q", targetURL)
	}
	if lim := l.limiter(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, scrapeError("local_http: rate wait", targetURL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, scrapeError("local_http: fetch", targetURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, scrapeError("local_http: read body", targetURL, err)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, resilience.Errorf(resilience.KindScrape, "local_http", "blocked (%s): %s", blockType, targetURL)
	}
	if resp.StatusCode >= 400 {
		return nil, resilience.HTTPError("local_http", resp.StatusCode,
			eris.Errorf("status %d: %s", resp.StatusCode, targetURL))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, resilience.Errorf(resilience.KindScrape, "local_http", "unsupported content type %q: %s", ct, targetURL)
	}

	parsed, err := parseHTML(string(body), resp.Request.URL.String(), l.opts.MaxLinks)
	if err != nil {
		return nil, scrapeError("local_http: convert", targetURL, err)
	}
	if len(strings.TrimSpace(parsed.Markdown)) < 50 {
		return nil, resilience.Errorf(resilience.KindScrape, "local_http", "empty page: %s", targetURL)
	}

	return finishPage(&model.ScrapedPage{
		URL:        targetURL,
		Title:      parsed.Title,
		Markdown:   parsed.Markdown,
		Links:      parsed.Links,
		StatusCode: resp.StatusCode,
		Source:     l.Name(),
	}, l.opts), nil
}
