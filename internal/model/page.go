package model

import (
	"slices"
)

// PageType is the category the extractor assigns to a page.
type PageType string

const (
	PageTypeHomepage       PageType = "HOMEPAGE"
	PageTypeServiceListing PageType = "SERVICE_LISTING"
	PageTypeProductListing PageType = "PRODUCT_LISTING"
	PageTypeServiceDetail  PageType = "SERVICE_DETAIL"
	PageTypeProductDetail  PageType = "PRODUCT_DETAIL"
	PageTypePricing        PageType = "PRICING"
	PageTypeMenu           PageType = "MENU"
	PageTypeAbout          PageType = "ABOUT"
	PageTypeContact        PageType = "CONTACT"
	PageTypeTeam           PageType = "TEAM"
	PageTypeFAQ            PageType = "FAQ"
	PageTypeGallery        PageType = "GALLERY"
	PageTypeBlog           PageType = "BLOG"
	PageTypeOther          PageType = "OTHER"
)

// Priority ranks a suggested page.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank orders priorities; lower is more important. Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// ScrapedPage is a fetched page reduced to markdown plus its outbound links.
type ScrapedPage struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Markdown   string   `json:"markdown"`
	Links      []string `json:"links,omitempty"`
	PageType   PageType `json:"page_type,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// SuggestedPage is a candidate page proposed by discovery.
type SuggestedPage struct {
	URL          string   `json:"url"`
	Type         PageType `json:"type"`
	Priority     Priority `json:"priority"`
	Reason       string   `json:"reason,omitempty"`
	ExpectedData string   `json:"expected_data,omitempty"`
	AutoSelect   bool     `json:"auto_select"`
}

// SortSuggestedPages orders pages by priority, keeping the extractor's order
// within a priority.
func SortSuggestedPages(pages []SuggestedPage) {
	slices.SortStableFunc(pages, func(a, b SuggestedPage) int {
		return a.Priority.Rank() - b.Priority.Rank()
	})
}

// PageFailure records a page that could not be scraped or extracted.
type PageFailure struct {
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}
