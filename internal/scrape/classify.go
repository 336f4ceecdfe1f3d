package scrape

import (
	"net/url"
	"strings"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// pageTypeHints maps path keywords (English and Turkish) to page types.
// Earlier entries win.
var pageTypeHints = []struct {
	typ      model.PageType
	keywords []string
}{
	{model.PageTypePricing, []string{"pricing", "prices", "price-list", "fiyat", "ucret", "tarife"}},
	{model.PageTypeMenu, []string{"menu", "menü", "yemek"}},
	{model.PageTypeServiceListing, []string{"services", "service", "hizmetler", "hizmet", "treatments", "tedavi"}},
	{model.PageTypeProductListing, []string{"products", "product", "shop", "store", "urunler", "urun", "magaza", "collections"}},
	{model.PageTypeAbout, []string{"about", "hakkimizda", "hakkinda", "kurumsal", "company"}},
	{model.PageTypeContact, []string{"contact", "iletisim", "bize-ulasin", "location", "adres"}},
	{model.PageTypeTeam, []string{"team", "ekibimiz", "ekip", "staff", "doctors", "doktorlar"}},
	{model.PageTypeFAQ, []string{"faq", "sss", "sikca-sorulan", "questions"}},
	{model.PageTypeGallery, []string{"gallery", "galeri", "portfolio", "photos"}},
	{model.PageTypeBlog, []string{"blog", "news", "haberler", "articles"}},
}

// ClassifyPageType guesses a page type from its URL path. Detail pages are
// listing paths with a further segment.
func ClassifyPageType(rawURL string) model.PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageTypeOther
	}
	p := strings.ToLower(strings.Trim(u.Path, "/"))
	if p == "" || p == "index.html" || p == "index.php" || p == "tr" || p == "en" {
		return model.PageTypeHomepage
	}

	segments := strings.Split(p, "/")
	for i, seg := range segments {
		for _, hint := range pageTypeHints {
			for _, kw := range hint.keywords {
				if seg != kw && !strings.HasPrefix(seg, kw+"-") && !strings.HasPrefix(seg, kw+".") {
					continue
				}
				hasDetail := i < len(segments)-1
				switch {
				case hint.typ == model.PageTypeServiceListing && hasDetail:
					return model.PageTypeServiceDetail
				case hint.typ == model.PageTypeProductListing && hasDetail:
					return model.PageTypeProductDetail
				}
				return hint.typ
			}
		}
	}
	return model.PageTypeOther
}
