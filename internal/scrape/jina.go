package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
	"github.com/sells-group/onboarding-cli/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper. Three failures open
// its breaker for a minute, during which the chain skips it.
type JinaAdapter struct {
	client  jina.Client
	opts    Options
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter from a Jina client.
func NewJinaAdapter(client jina.Client, opts Options) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		opts:   opts,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
			// Every failed read counts, including pages Jina could not render.
			ShouldTrip:    func(err error) bool { return err != nil },
			OnStateChange: resilience.StateLogger("jina"),
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*model.ScrapedPage, error) {
	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*model.ScrapedPage, error) {
		resp, err := j.client.Read(ctx, targetURL)
		var statusErr *jina.StatusError
		if errors.As(err, &statusErr) {
			return nil, resilience.HTTPError("jina", statusErr.StatusCode, eris.Wrapf(err, "jina: read %s", targetURL))
		}
		if err != nil {
			return nil, scrapeError("jina: read", targetURL, err)
		}
		if needsFallback(resp) {
			return nil, resilience.Errorf(resilience.KindScrape, "jina", "response needs fallback: %s", targetURL)
		}

		page := &model.ScrapedPage{
			URL:        targetURL,
			Title:      resp.Data.Title,
			Markdown:   resp.Data.Content,
			Links:      markdownLinks(resp.Data.Content, targetURL, j.opts.MaxLinks),
			StatusCode: 200,
			Source:     j.Name(),
		}
		return finishPage(page, j.opts), nil
	})
}

// needsFallback checks whether a Jina response contains usable content
// or indicates the page is blocked/empty.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}

	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)

	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)

	challengeSignatures := []string{
		"checking your browser",
		"enable javascript",
		"please enable cookies",
		"access denied",
		"403 forbidden",
		"just a moment",
		"cloudflare",
		"attention required",
	}

	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}

	return false
}

// markdownLinks pulls link targets out of markdown by rendering it through
// the same link extractor used for HTML.
func markdownLinks(md, pageURL string, maxLinks int) []string {
	var b strings.Builder
	rest := md
	for {
		i := strings.Index(rest, "](")
		if i < 0 {
			break
		}
		rest = rest[i+2:]
		end := strings.IndexAny(rest, ") ")
		if end < 0 {
			break
		}
		b.WriteString(`<a href="`)
		b.WriteString(strings.ReplaceAll(rest[:end], `"`, "%22"))
		b.WriteString(`"></a>`)
		rest = rest[end:]
	}
	if b.Len() == 0 {
		return nil
	}
	parsed, err := parseHTML(b.String(), pageURL, maxLinks)
	if err != nil {
		return nil
	}
	return parsed.Links
}

