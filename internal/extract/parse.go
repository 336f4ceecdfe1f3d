package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

var knownPageTypes = map[model.PageType]bool{
	model.PageTypeHomepage:       true,
	model.PageTypeServiceListing: true,
	model.PageTypeProductListing: true,
	model.PageTypeServiceDetail:  true,
	model.PageTypeProductDetail:  true,
	model.PageTypePricing:        true,
	model.PageTypeMenu:           true,
	model.PageTypeAbout:          true,
	model.PageTypeContact:        true,
	model.PageTypeTeam:           true,
	model.PageTypeFAQ:            true,
	model.PageTypeGallery:        true,
	model.PageTypeBlog:           true,
	model.PageTypeOther:          true,
}

func parsePageType(s string) model.PageType {
	t := model.PageType(strings.ToUpper(strings.TrimSpace(s)))
	if knownPageTypes[t] {
		return t
	}
	return model.PageTypeOther
}

func parsePriority(s string) model.Priority {
	p := model.Priority(strings.ToUpper(strings.TrimSpace(s)))
	if p.Rank() > model.PriorityLow.Rank() {
		return model.PriorityMedium
	}
	return p
}

func parseOfferingType(s string) model.OfferingType {
	if strings.EqualFold(strings.TrimSpace(s), string(model.OfferingTypeProduct)) {
		return model.OfferingTypeProduct
	}
	return model.OfferingTypeService
}

func parseCurrency(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	switch c {
	case "TL", "₺", "YTL":
		return "TRY"
	case "$":
		return "USD"
	case "€":
		return "EUR"
	}
	return c
}

// parsePrice reads a price the model returned as a number or a string such
// as "1.250,00 TL". Negative and unreadable prices yield nil.
func parsePrice(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		n, ok := parsePriceString(t)
		if !ok {
			return nil
		}
		f = n
	default:
		return nil
	}
	if f < 0 {
		return nil
	}
	return &f
}

func parsePriceString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The later separator is the decimal one.
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 != 3 {
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 || len(num)-lastDot-1 == 3 {
			num = strings.ReplaceAll(num, ".", "")
		}
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeURL resolves raw against base and returns it without fragment or
// trailing slash. Only http(s) URLs are accepted.
func normalizeURL(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), true
}

// siteBase returns the scheme and host of the first parseable URL.
func siteBase(urls []string) *url.URL {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err == nil && u.Host != "" {
			return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
		}
	}
	return nil
}

func emptyCompanyInfo(c model.CompanyInfo) bool {
	return c.Name == "" && c.Description == "" && c.Phone == "" && c.Email == "" &&
		c.Address == "" && c.Website == "" && c.WorkingHours == "" && c.LogoURL == "" &&
		len(c.SocialLinks) == 0 && len(c.Extra) == 0
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
