// Package extract turns scraped pages into structured company, sector and
// offering data with Claude.
package extract

import (
	"context"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// Extractor is the AI side of onboarding.
type Extractor interface {
	// SmartDiscovery classifies the business from its homepage and proposes
	// pages worth a deep dive. It does not extract offerings.
	SmartDiscovery(ctx context.Context, markdown string, links []string) (*Discovery, error)
	// DeepDiveExtraction extracts offerings and company details from a batch
	// of pages.
	DeepDiveExtraction(ctx context.Context, pages []model.ScrapedPage, sector *model.SectorAnalysis, company *model.CompanyInfo) (*DeepDive, error)
}

// Discovery is the result of SmartDiscovery.
type Discovery struct {
	SectorAnalysis model.SectorAnalysis  `json:"sector_analysis"`
	CompanyInfo    model.CompanyInfo     `json:"company_info"`
	SuggestedPages []model.SuggestedPage `json:"suggested_pages"`
	Usage          model.Usage           `json:"-"`
}

// DeepDive is the result of DeepDiveExtraction.
type DeepDive struct {
	CompanyInfoUpdates  *model.CompanyInfo `json:"company_info_updates,omitempty"`
	Offerings           []model.Offering   `json:"offerings"`
	OfferingDetailLinks []string           `json:"offering_detail_links,omitempty"`
	NeedsDetailScraping bool               `json:"needs_detail_scraping"`
	Usage               model.Usage        `json:"-"`
}
