package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Reserved phase data keys. Phase payloads are stored under the phase name.
const (
	KeyProgress = "_progress"
	KeyErrors   = "_errors"
	KeyUsage    = "_usage"
)

// PhaseData maps a phase name (or reserved key) to its JSON payload.
type PhaseData map[string]json.RawMessage

// Has reports whether key holds a non-null payload.
func (d PhaseData) Has(key string) bool {
	raw, ok := d[key]
	return ok && len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Decode unmarshals the payload under key into v. It returns false when the
// key is absent.
func (d PhaseData) Decode(key string, v any) (bool, error) {
	if !d.Has(key) {
		return false, nil
	}
	if err := json.Unmarshal(d[key], v); err != nil {
		return true, eris.Wrapf(err, "phase data: decode %s", key)
	}
	return true, nil
}

// Put stores v under key.
func (d PhaseData) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "phase data: encode %s", key)
	}
	d[key] = raw
	return nil
}

// Merge returns a new PhaseData holding every key of d and other. Values in
// other replace values in d for the same key; no key is ever dropped.
func (d PhaseData) Merge(other PhaseData) PhaseData {
	out := make(PhaseData, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Progress returns the recorded step per phase.
func (d PhaseData) Progress() (Progress, error) {
	prog := Progress{}
	if _, err := d.Decode(KeyProgress, &prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// Errors returns the recorded phase failures, oldest first.
func (d PhaseData) Errors() ([]JobError, error) {
	var errs []JobError
	if _, err := d.Decode(KeyErrors, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

// Usage returns the accumulated LLM usage for the job.
func (d PhaseData) Usage() (Usage, error) {
	var u Usage
	if _, err := d.Decode(KeyUsage, &u); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Progress maps each phase to its last recorded step.
type Progress map[Phase]Step

// With returns a copy of p with phase set to step.
func (p Progress) With(phase Phase, step Step) Progress {
	out := make(Progress, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[phase] = step
	return out
}

// JobError records a phase failure.
type JobError struct {
	Phase   Phase     `json:"phase"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// DiscoveryData is the SMART_DISCOVERY payload. Homepage is stored as soon
// as it is scraped so a resumed job does not fetch it again.
type DiscoveryData struct {
	Homepage       *ScrapedPage    `json:"homepage,omitempty"`
	SectorAnalysis *SectorAnalysis `json:"sector_analysis,omitempty"`
	CompanyInfo    *CompanyInfo    `json:"company_info,omitempty"`
	SuggestedPages []SuggestedPage `json:"suggested_pages,omitempty"`
}

// PageSelectionData is the SMART_PAGE_SELECTION payload.
type PageSelectionData struct {
	SelectedPages []SuggestedPage `json:"selected_pages"`
	Skipped       bool            `json:"skipped"`
	SelectedAt    time.Time       `json:"selected_at"`
}

// DeepDiveData is the BATCH_DEEP_DIVE payload. Batches grows one entry per
// completed batch so an interrupted run continues with the next batch.
type DeepDiveData struct {
	TotalBatches     int              `json:"total_batches"`
	Batches          []DeepDiveResult `json:"batches,omitempty"`
	DetailPagesDone  bool             `json:"detail_pages_done,omitempty"`
	Offerings        []Offering       `json:"offerings,omitempty"`
	Duplicates       []DuplicateGroup `json:"duplicates,omitempty"`
	CompanyInfo      *CompanyInfo     `json:"company_info,omitempty"`
	FailedPages      []PageFailure    `json:"failed_pages,omitempty"`
	ExtractedPages   int              `json:"extracted_pages"`
}

// BatchDone reports whether batch number n has been recorded.
func (d *DeepDiveData) BatchDone(n int) bool {
	for _, b := range d.Batches {
		if b.BatchNumber == n {
			return true
		}
	}
	return false
}

// AllOfferings returns the raw offerings of every recorded batch in batch
// order.
func (d *DeepDiveData) AllOfferings() []Offering {
	var out []Offering
	for _, b := range d.Batches {
		out = append(out, b.Offerings...)
	}
	return out
}

// CompanyReviewData is the COMPANY_INFO_REVIEW payload.
type CompanyReviewData struct {
	CompanyInfo CompanyInfo `json:"company_info"`
	ApprovedAt  time.Time   `json:"approved_at"`
}

// OfferingSelectionData is the OFFERING_SELECTION payload. TenantID is fixed
// before any row is written so a retried save targets the same tenant.
type OfferingSelectionData struct {
	TenantID  string     `json:"tenant_id"`
	Offerings []Offering `json:"offerings"`
	SavedAt   *time.Time `json:"saved_at,omitempty"`
}

// CompletionData is the COMPLETION payload.
type CompletionData struct {
	TenantID      string    `json:"tenant_id"`
	OfferingCount int       `json:"offering_count"`
	CompletedAt   time.Time `json:"completed_at"`
}
