package onboarding

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/scrape"
)

// sanitizeValue strips markup from every string inside a JSON value.
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return scrape.StripMarkup(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = sanitizeValue(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = sanitizeValue(el)
		}
		return out
	default:
		return v
	}
}

func clean(s string) string {
	return strings.TrimSpace(scrape.StripMarkup(s))
}

func sanitizeCompany(c model.CompanyInfo) model.CompanyInfo {
	c.Name = clean(c.Name)
	c.Description = clean(c.Description)
	c.Phone = clean(c.Phone)
	c.Email = clean(c.Email)
	c.Address = clean(c.Address)
	c.Website = clean(c.Website)
	c.WorkingHours = clean(c.WorkingHours)
	c.LogoURL = clean(c.LogoURL)
	if c.SocialLinks != nil {
		links := make(map[string]string, len(c.SocialLinks))
		for k, v := range c.SocialLinks {
			links[k] = clean(v)
		}
		c.SocialLinks = links
	}
	if c.Extra != nil {
		c.Extra = sanitizeValue(c.Extra).(map[string]any)
	}
	return c
}

// sanitizeOfferings validates and cleans a user-submitted offering list.
// Ids and owners are dropped; the save assigns them.
func sanitizeOfferings(offerings []model.Offering, siteURL string) ([]model.Offering, error) {
	out := make([]model.Offering, 0, len(offerings))
	for i, o := range offerings {
		o = o.Clone()
		o.ID = ""
		o.TenantID = ""
		o.Name = clean(o.Name)
		if o.Name == "" {
			return nil, eris.Wrapf(ErrInvalidSelection, "offering %d has no name", i)
		}
		switch o.Type {
		case model.OfferingTypeService, model.OfferingTypeProduct:
		case "":
			o.Type = model.OfferingTypeService
		default:
			return nil, eris.Wrapf(ErrInvalidSelection, "offering %q has unknown type %q", o.Name, o.Type)
		}
		if o.Price != nil && *o.Price < 0 {
			return nil, eris.Wrapf(ErrInvalidSelection, "offering %q has a negative price", o.Name)
		}
		o.Description = clean(o.Description)
		o.Category = clean(o.Category)
		o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
		if o.SourceURL == "" {
			o.SourceURL = siteURL
		}
		if o.MetaInfo != nil {
			if err := model.ValidateValue(o.MetaInfo); err != nil {
				return nil, eris.Wrapf(err, "offering %q", o.Name)
			}
			o.MetaInfo = sanitizeValue(o.MetaInfo).(map[string]any)
		}
		out = append(out, o)
	}
	return out, nil
}
