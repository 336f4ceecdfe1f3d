package model

import (
	"time"
)

// OfferingType distinguishes services from products.
type OfferingType string

const (
	OfferingTypeService OfferingType = "SERVICE"
	OfferingTypeProduct OfferingType = "PRODUCT"
)

// Offering is a service or product extracted from the website.
type Offering struct {
	ID          string         `json:"id,omitempty"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        OfferingType   `json:"type"`
	Price       *float64       `json:"price,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	Category    string         `json:"category,omitempty"`
	MetaInfo    map[string]any `json:"meta_info,omitempty"`
	SourceURL   string         `json:"source_url"`
	ImageURL    string         `json:"image_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`
}

// Clone returns a deep copy of o.
func (o Offering) Clone() Offering {
	if o.Price != nil {
		p := *o.Price
		o.Price = &p
	}
	if o.MetaInfo != nil {
		o.MetaInfo = CloneValue(o.MetaInfo).(map[string]any)
	}
	return o
}

// RecommendationMerge is the only recommendation a duplicate group carries.
const RecommendationMerge = "MERGE"

// DuplicateMember identifies one offering inside a duplicate group.
type DuplicateMember struct {
	OfferingIndex int    `json:"offering_index"`
	Name          string `json:"name"`
	SourceURL     string `json:"source_url"`
}

// DuplicateGroup is a set of offerings judged to be the same thing.
type DuplicateGroup struct {
	Members        []DuplicateMember `json:"members"`
	Recommendation string            `json:"recommendation"`
	Reason         string            `json:"reason"`
	SuggestedMerge Offering          `json:"suggested_merge"`
}

// DeepDiveResult is the extraction output of one batch of pages.
type DeepDiveResult struct {
	BatchNumber         int           `json:"batch_number"`
	Pages               []string      `json:"pages"`
	Offerings           []Offering    `json:"offerings"`
	CompanyInfoUpdates  *CompanyInfo  `json:"company_info_updates,omitempty"`
	OfferingDetailLinks []string      `json:"offering_detail_links,omitempty"`
	NeedsDetailScraping bool          `json:"needs_detail_scraping"`
	Errors              []PageFailure `json:"errors,omitempty"`
	Usage               Usage         `json:"usage"`
}
