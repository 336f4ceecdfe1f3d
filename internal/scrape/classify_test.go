package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/onboarding-cli/internal/model"
)

func TestClassifyPageType(t *testing.T) {
	tests := []struct {
		url  string
		want model.PageType
	}{
		{"https://acme.example", model.PageTypeHomepage},
		{"https://acme.example/", model.PageTypeHomepage},
		{"https://acme.example/tr/", model.PageTypeHomepage},
		{"https://acme.example/hizmetler", model.PageTypeServiceListing},
		{"https://acme.example/hizmetler/sac-kesimi", model.PageTypeServiceDetail},
		{"https://acme.example/urunler/krem-50ml", model.PageTypeProductDetail},
		{"https://acme.example/shop", model.PageTypeProductListing},
		{"https://acme.example/fiyat-listesi", model.PageTypePricing},
		{"https://acme.example/menu", model.PageTypeMenu},
		{"https://acme.example/hakkimizda", model.PageTypeAbout},
		{"https://acme.example/iletisim.html", model.PageTypeContact},
		{"https://acme.example/ekibimiz", model.PageTypeTeam},
		{"https://acme.example/sss", model.PageTypeFAQ},
		{"https://acme.example/blog/yeni-sezon", model.PageTypeBlog},
		{"https://acme.example/servicesxyz", model.PageTypeOther},
		{"https://acme.example/kampanya", model.PageTypeOther},
		{"://bad", model.PageTypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPageType(tt.url))
		})
	}
}
