package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Phase is a stage of the onboarding state machine.
type Phase string

const (
	PhaseSmartDiscovery     Phase = "SMART_DISCOVERY"
	PhaseSmartPageSelection Phase = "SMART_PAGE_SELECTION"
	PhaseBatchDeepDive      Phase = "BATCH_DEEP_DIVE"
	PhaseCompanyInfoReview  Phase = "COMPANY_INFO_REVIEW"
	PhaseOfferingSelection  Phase = "OFFERING_SELECTION"
	PhaseCompletion         Phase = "COMPLETION"
)

var phaseOrder = []Phase{
	PhaseSmartDiscovery,
	PhaseSmartPageSelection,
	PhaseBatchDeepDive,
	PhaseCompanyInfoReview,
	PhaseOfferingSelection,
	PhaseCompletion,
}

// AllPhases returns the phases in forward order.
func AllPhases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Index returns the position of p in forward order, or -1.
func (p Phase) Index() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase after p. COMPLETION has no successor.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// ParsePhase converts a string to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", eris.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// JobStatus is the lifecycle state of an onboarding job.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Step marks how far a phase has progressed. Steps are recorded in
// phase data before the work they describe is considered done, and resume
// reads them back to decide what is left to do.
type Step string

const (
	StepNone Step = ""

	// SMART_DISCOVERY
	StepHomepageScraped    Step = "homepage_scraped"
	StepDiscoveryExtracted Step = "discovery_extracted"

	// SMART_PAGE_SELECTION and OFFERING_SELECTION
	StepAwaitingSelection Step = "awaiting_selection"
	StepPagesSelected     Step = "pages_selected"
	StepSkipped           Step = "skipped"

	// BATCH_DEEP_DIVE
	StepBatchesRunning  Step = "batches_running"
	StepPagesExtracted  Step = "pages_extracted"
	StepOfferingsMerged Step = "offerings_merged"

	// COMPANY_INFO_REVIEW
	StepAwaitingReview Step = "awaiting_review"
	StepApproved       Step = "approved"

	// OFFERING_SELECTION
	StepOfferingsSelected Step = "offerings_selected"
	StepOfferingsSaved    Step = "offerings_saved"

	// COMPLETION
	StepDone Step = "done"
)

// Job is the durable record of one onboarding.
type Job struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	UserID       string    `json:"user_id"`
	CurrentPhase Phase     `json:"current_phase"`
	Status       JobStatus `json:"status"`
	PhaseData    PhaseData `json:"phase_data"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Step returns the recorded step for phase.
func (j *Job) Step(phase Phase) Step {
	prog, err := j.PhaseData.Progress()
	if err != nil {
		return StepNone
	}
	return prog[phase]
}

// JobPatch describes an update to a job. PhaseData keys are merged into the
// stored phase data; keys are never removed.
type JobPatch struct {
	CurrentPhase *Phase
	Status       *JobStatus
	PhaseData    PhaseData
}

// Empty reports whether the patch changes nothing.
func (p JobPatch) Empty() bool {
	return p.CurrentPhase == nil && p.Status == nil && len(p.PhaseData) == 0
}

// Apply returns a copy of j with the patch applied.
func (j Job) Apply(p JobPatch, now time.Time) Job {
	if p.CurrentPhase != nil {
		j.CurrentPhase = *p.CurrentPhase
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	j.PhaseData = j.PhaseData.Merge(p.PhaseData)
	j.UpdatedAt = now
	return j
}

// PhasePtr and StatusPtr build patch fields.
func PhasePtr(p Phase) *Phase { return &p }

func StatusPtr(s JobStatus) *JobStatus { return &s }
