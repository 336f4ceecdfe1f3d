package dedupe

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// Adjudicator confirms whether two similarly named offerings are the same.
// It is only asked about pairs matched by edit distance, never about exact
// name matches, and its errors leave the deterministic decision in place.
type Adjudicator interface {
	SameOffering(ctx context.Context, a, b model.Offering) (bool, error)
}

// Result is the outcome of Detect.
type Result struct {
	UniqueOfferings []model.Offering       `json:"unique_offerings"`
	Duplicates      []model.DuplicateGroup `json:"duplicates"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithVariantTokens replaces the built-in variant token lists.
func WithVariantTokens(vt VariantTokens) Option {
	return func(d *Detector) { d.variants = newVariantMatcher(vt) }
}

// WithAdjudicator sets the model used to confirm fuzzy matches.
func WithAdjudicator(a Adjudicator) Option {
	return func(d *Detector) { d.adjudicator = a }
}

// WithMaxDistance sets the exclusive edit distance bound for fuzzy matches.
func WithMaxDistance(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxDistance = n
		}
	}
}

// Detector groups duplicate offerings.
type Detector struct {
	variants    variantMatcher
	adjudicator Adjudicator
	maxDistance int
}

// NewDetector creates a Detector with the built-in variant tokens.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		variants:    defaultMatcher,
		maxDistance: 3,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type matchReason int

const (
	noMatch matchReason = iota
	exactMatch
	fuzzyMatch
)

func (d *Detector) match(a, b string) (matchReason, int) {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return exactMatch, 0
	}
	dist := Distance(na, nb)
	if dist > 0 && dist < d.maxDistance && !d.variants.isVariant(a, b) {
		return fuzzyMatch, dist
	}
	return noMatch, dist
}

// Detect groups offerings whose names match case-insensitively or within
// the edit distance bound, skipping variant pairs. Each group is replaced by
// its most complete member. Offerings without duplicates pass through
// unchanged, and output order follows the first member of each group.
func (d *Detector) Detect(ctx context.Context, offerings []model.Offering) Result {
	res := Result{
		UniqueOfferings: make([]model.Offering, 0, len(offerings)),
		Duplicates:      []model.DuplicateGroup{},
	}
	consumed := make([]bool, len(offerings))

	for i := range offerings {
		if consumed[i] {
			continue
		}
		consumed[i] = true
		members := []int{i}
		var fuzzy bool
		maxDist := 0

		for j := i + 1; j < len(offerings); j++ {
			if consumed[j] {
				continue
			}
			reason, dist := d.match(offerings[i].Name, offerings[j].Name)
			if reason == noMatch {
				continue
			}
			if reason == fuzzyMatch && !d.confirm(ctx, offerings[i], offerings[j]) {
				continue
			}
			consumed[j] = true
			members = append(members, j)
			if reason == fuzzyMatch {
				fuzzy = true
				maxDist = max(maxDist, dist)
			}
		}

		if len(members) == 1 {
			res.UniqueOfferings = append(res.UniqueOfferings, offerings[i])
			continue
		}

		rep := members[0]
		for _, m := range members[1:] {
			if CompletenessScore(offerings[m]) > CompletenessScore(offerings[rep]) {
				rep = m
			}
		}
		merged := offerings[rep].Clone()
		res.UniqueOfferings = append(res.UniqueOfferings, merged)

		group := model.DuplicateGroup{
			Recommendation: model.RecommendationMerge,
			Reason:         groupReason(fuzzy, maxDist),
			SuggestedMerge: merged,
		}
		for _, m := range members {
			group.Members = append(group.Members, model.DuplicateMember{
				OfferingIndex: m,
				Name:          offerings[m].Name,
				SourceURL:     offerings[m].SourceURL,
			})
		}
		res.Duplicates = append(res.Duplicates, group)
	}

	if len(res.Duplicates) > 0 {
		zap.L().Debug("dedupe: merged duplicate offerings",
			zap.Int("input", len(offerings)),
			zap.Int("unique", len(res.UniqueOfferings)),
			zap.Int("groups", len(res.Duplicates)),
		)
	}
	return res
}

func (d *Detector) confirm(ctx context.Context, a, b model.Offering) bool {
	if d.adjudicator == nil {
		return true
	}
	same, err := d.adjudicator.SameOffering(ctx, a, b)
	if err != nil {
		zap.L().Warn("dedupe: adjudicator failed, keeping distance match",
			zap.String("a", a.Name),
			zap.String("b", b.Name),
			zap.Error(err),
		)
		return true
	}
	return same
}

func groupReason(fuzzy bool, dist int) string {
	if !fuzzy {
		return "identical names (case-insensitive)"
	}
	return fmt.Sprintf("similar names (edit distance %d)", dist)
}

// CompletenessScore ranks how much information an offering carries.
func CompletenessScore(o model.Offering) int {
	score := 0
	if o.Name != "" {
		score++
	}
	if utf8.RuneCountInString(o.Description) > 10 {
		score += 2
	}
	if o.Price != nil {
		score += 2
	}
	if o.Category != "" {
		score++
	}
	if len(o.MetaInfo) > 0 {
		score += 2
	}
	if o.ImageURL != "" {
		score++
	}
	return score
}
