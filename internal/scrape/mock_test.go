package scrape

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/pkg/jina"
)

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

type mockScraper struct {
	mock.Mock
	name string
}

func (m *mockScraper) Name() string { return m.name }

func (m *mockScraper) Supports(url string) bool {
	return m.Called(url).Bool(0)
}

func (m *mockScraper) Scrape(ctx context.Context, url string) (*model.ScrapedPage, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScrapedPage), args.Error(1)
}
