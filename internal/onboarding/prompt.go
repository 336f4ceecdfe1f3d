package onboarding

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// PromptInput is the approved data a chatbot prompt is built from.
type PromptInput struct {
	Company   model.CompanyInfo     `json:"company"`
	Sector    *model.SectorAnalysis `json:"sector,omitempty"`
	Offerings []model.Offering      `json:"offerings"`
}

// PromptBuilder renders the chatbot system prompt stored on the tenant.
type PromptBuilder interface {
	Build(ctx context.Context, in PromptInput) (string, error)
}

// StructuredPrompt stores the approved data as JSON and leaves prompt
// wording to whatever serves the chatbot.
type StructuredPrompt struct{}

func (StructuredPrompt) Build(_ context.Context, in PromptInput) (string, error) {
	type offering struct {
		Name     string   `json:"name"`
		Type     string   `json:"type"`
		Price    *float64 `json:"price,omitempty"`
		Currency string   `json:"currency,omitempty"`
		Category string   `json:"category,omitempty"`
	}
	doc := struct {
		Company   model.CompanyInfo     `json:"company"`
		Sector    *model.SectorAnalysis `json:"sector,omitempty"`
		Offerings []offering            `json:"offerings"`
	}{Company: in.Company, Sector: in.Sector, Offerings: make([]offering, 0, len(in.Offerings))}
	for _, o := range in.Offerings {
		doc.Offerings = append(doc.Offerings, offering{
			Name:     o.Name,
			Type:     string(o.Type),
			Price:    o.Price,
			Currency: o.Currency,
			Category: o.Category,
		})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", eris.Wrap(err, "prompt: encode")
	}
	return string(b), nil
}
