package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/cost"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
	"github.com/sells-group/onboarding-cli/pkg/anthropic"
)

// Config holds the extractor settings.
type Config struct {
	DiscoveryModel    string
	ExtractionModel   string
	AdjudicatorModel  string
	MaxTokens         int64
	Timeout           time.Duration
	MaxSuggestedPages int
	MaxPageChars      int
}

// ConfigFrom builds an extractor Config from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DiscoveryModel:    cfg.Anthropic.DiscoveryModel,
		ExtractionModel:   cfg.Anthropic.ExtractionModel,
		AdjudicatorModel:  cfg.Anthropic.AdjudicatorModel,
		MaxTokens:         int64(cfg.Anthropic.MaxTokens),
		Timeout:           time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		MaxSuggestedPages: cfg.Discovery.MaxSuggestedPages,
	}
}

func (c Config) withDefaults() Config {
	if c.DiscoveryModel == "" {
		c.DiscoveryModel = "claude-haiku-4-5-20251001"
	}
	if c.ExtractionModel == "" {
		c.ExtractionModel = "claude-sonnet-4-5-20250929"
	}
	if c.AdjudicatorModel == "" {
		c.AdjudicatorModel = c.DiscoveryModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}
	if c.MaxSuggestedPages <= 0 {
		c.MaxSuggestedPages = 15
	}
	if c.MaxPageChars <= 0 {
		c.MaxPageChars = 15000
	}
	return c
}

// ClaudeExtractor implements Extractor and dedupe.Adjudicator with Claude.
type ClaudeExtractor struct {
	client  anthropic.Client
	calc    *cost.Calculator
	cfg     Config
	nowFunc func() time.Time
}

// NewClaudeExtractor creates a ClaudeExtractor. A nil calculator prices
// calls with the default rates.
func NewClaudeExtractor(client anthropic.Client, calc *cost.Calculator, cfg Config) *ClaudeExtractor {
	if calc == nil {
		calc = cost.NewCalculator(config.PricingConfig{})
	}
	return &ClaudeExtractor{
		client:  client,
		calc:    calc,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

type rawSuggestedPage struct {
	URL          string `json:"url"`
	Type         string `json:"type"`
	Priority     string `json:"priority"`
	Reason       string `json:"reason"`
	ExpectedData string `json:"expected_data"`
	AutoSelect   bool   `json:"auto_select"`
}

type rawDiscovery struct {
	SectorAnalysis model.SectorAnalysis `json:"sector_analysis"`
	CompanyInfo    model.CompanyInfo    `json:"company_info"`
	SuggestedPages []rawSuggestedPage   `json:"suggested_pages"`
}

// SmartDiscovery classifies the business and proposes pages to scrape.
// Suggestions outside the homepage's links are dropped when links are
// known; the rest are deduplicated, ordered by priority and capped.
func (c *ClaudeExtractor) SmartDiscovery(ctx context.Context, markdown string, links []string) (*Discovery, error) {
	user := fmt.Sprintf(discoveryUserPrompt, truncateRunes(markdown, c.cfg.MaxPageChars), strings.Join(links, "\n"))

	var raw rawDiscovery
	usage, err := c.call(ctx, "discovery", c.cfg.DiscoveryModel, discoverySystemPrompt, user, &raw)
	if err != nil {
		return nil, err
	}

	base := siteBase(links)
	known := make(map[string]bool, len(links))
	for _, l := range links {
		if n, ok := normalizeURL(l, nil); ok {
			known[n] = true
		}
	}

	seen := make(map[string]bool)
	pages := make([]model.SuggestedPage, 0, len(raw.SuggestedPages))
	for _, sp := range raw.SuggestedPages {
		u, ok := normalizeURL(sp.URL, base)
		if !ok || seen[u] || (len(known) > 0 && !known[u]) {
			continue
		}
		seen[u] = true
		pages = append(pages, model.SuggestedPage{
			URL:          u,
			Type:         parsePageType(sp.Type),
			Priority:     parsePriority(sp.Priority),
			Reason:       strings.TrimSpace(sp.Reason),
			ExpectedData: strings.TrimSpace(sp.ExpectedData),
			AutoSelect:   sp.AutoSelect,
		})
	}
	model.SortSuggestedPages(pages)
	if len(pages) > c.cfg.MaxSuggestedPages {
		pages = pages[:c.cfg.MaxSuggestedPages]
	}

	raw.SectorAnalysis.Sector = strings.TrimSpace(raw.SectorAnalysis.Sector)
	if raw.SectorAnalysis.Confidence < 0 || raw.SectorAnalysis.Confidence > 1 {
		raw.SectorAnalysis.Confidence = 0
	}

	return &Discovery{
		SectorAnalysis: raw.SectorAnalysis,
		CompanyInfo:    raw.CompanyInfo,
		SuggestedPages: pages,
		Usage:          usage,
	}, nil
}

type rawOffering struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Price       any            `json:"price"`
	Currency    string         `json:"currency"`
	Category    string         `json:"category"`
	MetaInfo    map[string]any `json:"meta_info"`
	SourceURL   string         `json:"source_url"`
	ImageURL    string         `json:"image_url"`
}

type rawDeepDive struct {
	CompanyInfoUpdates  *model.CompanyInfo `json:"company_info_updates"`
	Offerings           []rawOffering      `json:"offerings"`
	OfferingDetailLinks []string           `json:"offering_detail_links"`
	NeedsDetailScraping bool               `json:"needs_detail_scraping"`
}

// DeepDiveExtraction extracts offerings from a batch of pages. Offerings
// without a name are dropped, every offering is attributed to one of the
// given pages, and extracted attributes get AI provenance.
func (c *ClaudeExtractor) DeepDiveExtraction(ctx context.Context, pages []model.ScrapedPage, sector *model.SectorAnalysis, company *model.CompanyInfo) (*DeepDive, error) {
	if len(pages) == 0 {
		return &DeepDive{}, nil
	}

	var sectorName string
	if sector != nil {
		sectorName = strings.TrimSpace(sector.Sector + " " + sector.SubSector)
	}
	companyJSON := []byte("{}")
	if company != nil {
		if b, err := json.MarshalIndent(company, "", "  "); err == nil {
			companyJSON = b
		}
	}

	var body strings.Builder
	for i, p := range pages {
		fmt.Fprintf(&body, "--- PAGE %d: %s ---\n%s\n\n", i+1, p.URL, truncateRunes(p.Markdown, c.cfg.MaxPageChars))
	}
	user := fmt.Sprintf(deepDiveUserPrompt, sectorName, companyJSON, body.String())

	var raw rawDeepDive
	usage, err := c.call(ctx, "deep_dive", c.cfg.ExtractionModel, deepDiveSystemPrompt, user, &raw)
	if err != nil {
		return nil, err
	}

	pageURLs := make(map[string]bool, len(pages))
	for _, p := range pages {
		if n, ok := normalizeURL(p.URL, nil); ok {
			pageURLs[n] = true
		}
	}
	base := siteBase([]string{pages[0].URL})
	now := c.nowFunc()

	out := &DeepDive{Usage: usage, Offerings: make([]model.Offering, 0, len(raw.Offerings))}
	for _, ro := range raw.Offerings {
		name := strings.TrimSpace(ro.Name)
		if name == "" {
			continue
		}
		o := model.Offering{
			Name:        name,
			Description: strings.TrimSpace(ro.Description),
			Type:        parseOfferingType(ro.Type),
			Price:       parsePrice(ro.Price),
			Currency:    parseCurrency(ro.Currency),
			Category:    strings.TrimSpace(ro.Category),
			MetaInfo:    ro.MetaInfo,
			SourceURL:   pages[0].URL,
		}
		if src, ok := normalizeURL(ro.SourceURL, base); ok && pageURLs[src] {
			o.SourceURL = src
		}
		if img, ok := normalizeURL(ro.ImageURL, base); ok {
			o.ImageURL = img
		}
		if err := o.SeedAIFields(now); err != nil {
			zap.L().Warn("extract: dropping offering metadata", zap.String("offering", name), zap.Error(err))
			o.MetaInfo = nil
		}
		out.Offerings = append(out.Offerings, o)
	}

	seen := make(map[string]bool)
	for _, l := range raw.OfferingDetailLinks {
		u, ok := normalizeURL(l, base)
		if !ok || pageURLs[u] || seen[u] {
			continue
		}
		seen[u] = true
		out.OfferingDetailLinks = append(out.OfferingDetailLinks, u)
	}
	out.NeedsDetailScraping = raw.NeedsDetailScraping && len(out.OfferingDetailLinks) > 0

	if raw.CompanyInfoUpdates != nil && !emptyCompanyInfo(*raw.CompanyInfoUpdates) {
		out.CompanyInfoUpdates = raw.CompanyInfoUpdates
	}
	return out, nil
}

type adjudication struct {
	Same   bool   `json:"same"`
	Reason string `json:"reason"`
}

// SameOffering asks the model whether two similarly named offerings are one.
func (c *ClaudeExtractor) SameOffering(ctx context.Context, a, b model.Offering) (bool, error) {
	describe := func(o model.Offering) string {
		raw, _ := json.Marshal(map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"price":       o.Price,
			"category":    o.Category,
		})
		return string(raw)
	}

	var res adjudication
	if _, err := c.call(ctx, "adjudicate", c.cfg.AdjudicatorModel, adjudicatorSystemPrompt,
		fmt.Sprintf(adjudicatorUserPrompt, describe(a), describe(b)), &res); err != nil {
		return false, err
	}
	zap.L().Debug("extract: adjudicated offering pair",
		zap.String("a", a.Name),
		zap.String("b", b.Name),
		zap.Bool("same", res.Same),
		zap.String("reason", res.Reason),
	)
	return res.Same, nil
}

// call sends one request and decodes the JSON answer into out. Usage is
// returned even when the answer cannot be parsed.
func (c *ClaudeExtractor) call(ctx context.Context, phase, modelID, system, user string, out any) (model.Usage, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelID,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.CachedSystem(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return model.Usage{}, classifyAPIError(phase, err)
	}
	if resp == nil {
		return model.Usage{}, resilience.Errorf(resilience.KindExtraction, "extract: "+phase, "empty response")
	}
	usage := c.calc.Usage(modelID, resp.Usage)
	zap.L().Info("extract: llm call",
		append(resp.Usage.Fields(),
			zap.String("phase", phase),
			zap.String("model", modelID),
			zap.Float64("cost_usd", usage.Cost),
		)...,
	)

	text := cleanJSON(resp.Text())
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return usage, resilience.NewError(resilience.KindExtraction, "extract: "+phase,
			eris.Wrapf(err, "unparsable model output (stop reason %q)", resp.StopReason))
	}
	return usage, nil
}

// classifyAPIError tags provider failures by HTTP status. Errors without a
// status keep their transport classification.
func classifyAPIError(phase string, err error) error {
	wrapped := eris.Wrapf(err, "extract: %s", phase)
	if status, ok := anthropic.StatusCode(err); ok {
		return resilience.HTTPError("anthropic", status, wrapped)
	}
	return wrapped
}

var _ Extractor = (*ClaudeExtractor)(nil)
