package dedupe

import (
	"os"
	"slices"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// VariantTokens lists words that mark a variant of the same base offering.
type VariantTokens struct {
	Gender []string `yaml:"gender"`
	Size   []string `yaml:"size"`
	Other  []string `yaml:"other"`
}

// DefaultVariantTokens covers Turkish and English retail and beauty naming.
func DefaultVariantTokens() VariantTokens {
	return VariantTokens{
		Gender: []string{
			"kadın", "kadin", "erkek", "bayan", "bay", "kız", "kiz", "çocuk", "cocuk", "unisex",
			"women", "woman", "womens", "men", "man", "mens", "ladies", "female", "male", "kids", "girls", "boys",
		},
		Size: []string{
			"büyük", "buyuk", "küçük", "kucuk", "orta", "mini", "maxi", "tek", "duble", "aile",
			"small", "medium", "large", "regular", "double", "single", "family",
			"xs", "s", "m", "l", "xl", "xxl", "xxxl",
		},
	}
}

// LoadVariantTokens reads a YAML token list. The built-in lists are used for
// any section the file leaves empty.
func LoadVariantTokens(path string) (VariantTokens, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return VariantTokens{}, eris.Wrapf(err, "dedupe: read variant tokens %s", path)
	}
	var vt VariantTokens
	if err := yaml.Unmarshal(b, &vt); err != nil {
		return VariantTokens{}, eris.Wrapf(err, "dedupe: parse variant tokens %s", path)
	}
	def := DefaultVariantTokens()
	if len(vt.Gender) == 0 {
		vt.Gender = def.Gender
	}
	if len(vt.Size) == 0 {
		vt.Size = def.Size
	}
	return vt, nil
}

func (vt VariantTokens) set() map[string]struct{} {
	set := make(map[string]struct{}, len(vt.Gender)+len(vt.Size)+len(vt.Other))
	for _, list := range [][]string{vt.Gender, vt.Size, vt.Other} {
		for _, tok := range list {
			set[foldToken(Normalize(tok))] = struct{}{}
		}
	}
	return set
}

// foldToken strips diacritics from a normalized token so "büyük" and
// "buyuk" or "kadın" and "kadin" name the same variant.
func foldToken(tok string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, tok)
	if err != nil {
		return tok
	}
	return strings.ReplaceAll(folded, "ı", "i")
}

// splitName separates the variant tokens of a normalized name from the rest.
// Variant tokens are returned folded.
func splitName(name string, tokens map[string]struct{}) (base string, variants []string) {
	words := strings.FieldsFunc(Normalize(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	kept := words[:0:0]
	for _, w := range words {
		if f := foldToken(w); isToken(tokens, f) {
			variants = append(variants, f)
			continue
		}
		kept = append(kept, w)
	}
	slices.Sort(variants)
	return strings.Join(kept, " "), variants
}

func isToken(tokens map[string]struct{}, w string) bool {
	_, ok := tokens[w]
	return ok
}

// variantMatcher decides whether two names are variants of one base.
type variantMatcher struct {
	tokens map[string]struct{}
}

func newVariantMatcher(vt VariantTokens) variantMatcher {
	return variantMatcher{tokens: vt.set()}
}

// isVariant reports whether a and b name the same base offering with
// different variant tokens, e.g. "Pizza Büyük" and "Pizza Küçük".
func (m variantMatcher) isVariant(a, b string) bool {
	baseA, varA := splitName(a, m.tokens)
	baseB, varB := splitName(b, m.tokens)
	if len(varA) == 0 && len(varB) == 0 {
		return false
	}
	if slices.Equal(varA, varB) {
		return false
	}
	return Distance(baseA, baseB) <= 2
}

var defaultMatcher = newVariantMatcher(DefaultVariantTokens())

// IsVariant reports whether a and b are variants under the built-in tokens.
func IsVariant(a, b string) bool {
	return defaultMatcher.isVariant(a, b)
}
