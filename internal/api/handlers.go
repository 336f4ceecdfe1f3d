package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
	"github.com/sells-group/onboarding-cli/internal/store"
)

var errBadBody = resilience.NewError(resilience.KindValidation, "api", eris.New("invalid JSON body"))

type startRequest struct {
	URL    string `json:"url" validate:"required,url,max=2048"`
	UserID string `json:"user_id" validate:"omitempty,max=128"`
}

type selectPagesRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,max=50,dive,required,url"`
}

type approveCompanyRequest struct {
	CompanyInfo model.CompanyInfo `json:"company_info"`
}

type selectOfferingsRequest struct {
	Offerings []model.Offering `json:"offerings" validate:"max=500"`
}

type addFieldRequest struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value any    `json:"value"`
	Type  string `json:"type" validate:"required,oneof=text number boolean url list object"`
	Label string `json:"label" validate:"max=100"`
}

type updateFieldRequest struct {
	Value any `json:"value"`
}

type jobResponse struct {
	*model.Job
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// decode reads and validates a JSON body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(errBadBody, err.Error())
	}
	return h.validate.Struct(v)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := h.svc.StartOnboarding(r.Context(), req.URL, req.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{UserID: q.Get("user_id"), Status: model.JobStatus(q.Get("status"))}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION", "limit must be a positive integer", nil)
			return
		}
		filter.Limit = n
	}
	jobs, err := h.svc.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeData(w, http.StatusOK, jobs)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := h.svc.GetJobStatus(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
		return
	}
	resp := jobResponse{Job: job}
	if at, ok := h.svc.LastActivity(r.Context(), id); ok {
		resp.LastActivity = &at
	}
	writeData(w, http.StatusOK, resp)
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.ResumeOnboarding(r.Context(), chi.URLParam(r, "jobID"))
	writeJob(w, r, job, err)
}

func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.RetryJob(r.Context(), chi.URLParam(r, "jobID"))
	writeJob(w, r, job, err)
}

func (h *Handler) selectPages(w http.ResponseWriter, r *http.Request) {
	var req selectPagesRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := h.svc.SelectPages(r.Context(), chi.URLParam(r, "jobID"), req.URLs)
	writeJob(w, r, job, err)
}

func (h *Handler) skipPages(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.SkipPageSelection(r.Context(), chi.URLParam(r, "jobID"))
	writeJob(w, r, job, err)
}

func (h *Handler) approveCompany(w http.ResponseWriter, r *http.Request) {
	var req approveCompanyRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := h.svc.ApproveCompany(r.Context(), chi.URLParam(r, "jobID"), req.CompanyInfo)
	writeJob(w, r, job, err)
}

func (h *Handler) selectOfferings(w http.ResponseWriter, r *http.Request) {
	var req selectOfferingsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := h.svc.SelectOfferings(r.Context(), chi.URLParam(r, "jobID"), req.Offerings)
	writeJob(w, r, job, err)
}

func (h *Handler) listOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.svc.GetOfferings(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if offerings == nil {
		offerings = []model.Offering{}
	}
	writeData(w, http.StatusOK, offerings)
}

func (h *Handler) addField(w http.ResponseWriter, r *http.Request) {
	var req addFieldRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	off, err := h.svc.AddCustomField(r.Context(), chi.URLParam(r, "offeringID"), req.Key, req.Value, model.FieldType(req.Type), req.Label)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, off)
}

func (h *Handler) updateField(w http.ResponseWriter, r *http.Request) {
	var req updateFieldRequest
	if err := h.decode(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	off, err := h.svc.UpdateCustomField(r.Context(), chi.URLParam(r, "offeringID"), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, off)
}

func (h *Handler) removeField(w http.ResponseWriter, r *http.Request) {
	off, err := h.svc.RemoveCustomField(r.Context(), chi.URLParam(r, "offeringID"), chi.URLParam(r, "key"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, off)
}

// writeJob answers a job transition. A job left in the deep dive is still
// working in the background, so the request is reported as accepted.
func writeJob(w http.ResponseWriter, r *http.Request, job *model.Job, err error) {
	if err != nil {
		writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if job.Status == model.JobStatusInProgress && job.CurrentPhase == model.PhaseBatchDeepDive {
		status = http.StatusAccepted
	}
	writeData(w, status, job)
}
