package model

import (
	"time"
)

// CompanyInfo is the business profile shown for review. Every field is
// optional; Extra holds anything the extractor found beyond these.
type CompanyInfo struct {
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	Address      string            `json:"address,omitempty"`
	Website      string            `json:"website,omitempty"`
	WorkingHours string            `json:"working_hours,omitempty"`
	LogoURL      string            `json:"logo_url,omitempty"`
	SocialLinks  map[string]string `json:"social_links,omitempty"`
	Extra        map[string]any    `json:"extra,omitempty"`
}

// Merge fills the empty fields of c from update. Values already present in c
// are kept.
func (c CompanyInfo) Merge(update CompanyInfo) CompanyInfo {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&c.Name, update.Name)
	fill(&c.Description, update.Description)
	fill(&c.Phone, update.Phone)
	fill(&c.Email, update.Email)
	fill(&c.Address, update.Address)
	fill(&c.Website, update.Website)
	fill(&c.WorkingHours, update.WorkingHours)
	fill(&c.LogoURL, update.LogoURL)

	if len(update.SocialLinks) > 0 {
		links := make(map[string]string, len(c.SocialLinks)+len(update.SocialLinks))
		for k, v := range update.SocialLinks {
			links[k] = v
		}
		for k, v := range c.SocialLinks {
			links[k] = v
		}
		c.SocialLinks = links
	}
	if len(update.Extra) > 0 {
		extra := make(map[string]any, len(c.Extra)+len(update.Extra))
		for k, v := range update.Extra {
			extra[k] = v
		}
		for k, v := range c.Extra {
			extra[k] = v
		}
		c.Extra = extra
	}
	return c
}

// SectorAnalysis classifies the business.
type SectorAnalysis struct {
	Sector        string   `json:"sector"`
	SubSector     string   `json:"sub_sector,omitempty"`
	BusinessModel string   `json:"business_model,omitempty"`
	Confidence    float64  `json:"confidence"`
	OfferingTerms []string `json:"offering_terms,omitempty"`
}

// Tenant is the chatbot configuration created when a job completes.
type Tenant struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	JobID       string          `json:"job_id"`
	Name        string          `json:"name"`
	Website     string          `json:"website"`
	CompanyInfo CompanyInfo     `json:"company_info"`
	Sector      *SectorAnalysis `json:"sector,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
