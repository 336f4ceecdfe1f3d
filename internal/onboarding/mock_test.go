package onboarding

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/model"
)

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Name() string           { return "mock" }
func (m *mockScraper) Supports(_ string) bool { return true }

func (m *mockScraper) Scrape(ctx context.Context, url string) (*model.ScrapedPage, error) {
	args := m.Called(ctx, url)
	page, _ := args.Get(0).(*model.ScrapedPage)
	return page, args.Error(1)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) SmartDiscovery(ctx context.Context, markdown string, links []string) (*extract.Discovery, error) {
	args := m.Called(ctx, markdown, links)
	res, _ := args.Get(0).(*extract.Discovery)
	return res, args.Error(1)
}

func (m *mockExtractor) DeepDiveExtraction(ctx context.Context, pages []model.ScrapedPage, sector *model.SectorAnalysis, company *model.CompanyInfo) (*extract.DeepDive, error) {
	args := m.Called(ctx, pages, sector, company)
	res, _ := args.Get(0).(*extract.DeepDive)
	return res, args.Error(1)
}

// pagesAre matches a DeepDiveExtraction page list by URL.
func pagesAre(urls ...string) any {
	return mock.MatchedBy(func(pages []model.ScrapedPage) bool {
		if len(pages) != len(urls) {
			return false
		}
		for i := range pages {
			if pages[i].URL != urls[i] {
				return false
			}
		}
		return true
	})
}
