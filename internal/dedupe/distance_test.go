package dedupe

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDistance_Known(t *testing.T) {
	assert.Equal(t, 3, Distance("kitten", "sitting"))
	assert.Equal(t, 0, Distance("Saç Kesimi", "saç kesimi"))
	assert.Equal(t, 1, Distance("manikür", "manikur"))
	assert.Equal(t, 2, Distance("pizza büyük", "pizza küçük"))
}

func TestDistance_Properties(t *testing.T) {
	words := []string{"", "a", "abc", "Saç Kesimi Kadın", "Saç Kesimi Erkek", "kitten", "sitting", "ğüşiöç", "Pizza Büyük"}
	for _, a := range words {
		assert.Equal(t, 0, Distance(a, a), "distance(%q,%q)", a, a)
		assert.Equal(t, utf8.RuneCountInString(Normalize(a)), Distance("", a))
		for _, b := range words {
			d := Distance(a, b)
			assert.Equal(t, d, Distance(b, a), "symmetry %q %q", a, b)
			assert.LessOrEqual(t, d, max(utf8.RuneCountInString(Normalize(a)), utf8.RuneCountInString(Normalize(b))))
		}
	}
}

func TestDistance_NormalizesComposition(t *testing.T) {
	composed := "küçük"
	decomposed := "küçük"
	assert.Equal(t, 0, Distance(composed, decomposed))
}
