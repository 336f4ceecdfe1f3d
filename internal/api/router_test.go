package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
	"github.com/sells-group/onboarding-cli/internal/store"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) job(args mock.Arguments) (*model.Job, error) {
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *mockService) offering(args mock.Arguments) (*model.Offering, error) {
	off, _ := args.Get(0).(*model.Offering)
	return off, args.Error(1)
}

func (m *mockService) StartOnboarding(ctx context.Context, rawURL, userID string) (*model.Job, error) {
	return m.job(m.Called(ctx, rawURL, userID))
}

func (m *mockService) GetJobStatus(ctx context.Context, id string) (*model.Job, error) {
	return m.job(m.Called(ctx, id))
}

func (m *mockService) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	args := m.Called(ctx, filter)
	jobs, _ := args.Get(0).([]model.Job)
	return jobs, args.Error(1)
}

func (m *mockService) LastActivity(ctx context.Context, id string) (time.Time, bool) {
	args := m.Called(ctx, id)
	return args.Get(0).(time.Time), args.Bool(1)
}

func (m *mockService) ResumeOnboarding(ctx context.Context, id string) (*model.Job, error) {
	return m.job(m.Called(ctx, id))
}

func (m *mockService) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	return m.job(m.Called(ctx, id))
}

func (m *mockService) SelectPages(ctx context.Context, id string, urls []string) (*model.Job, error) {
	return m.job(m.Called(ctx, id, urls))
}

func (m *mockService) SkipPageSelection(ctx context.Context, id string) (*model.Job, error) {
	return m.job(m.Called(ctx, id))
}

func (m *mockService) ApproveCompany(ctx context.Context, id string, info model.CompanyInfo) (*model.Job, error) {
	return m.job(m.Called(ctx, id, info))
}

func (m *mockService) SelectOfferings(ctx context.Context, id string, offerings []model.Offering) (*model.Job, error) {
	return m.job(m.Called(ctx, id, offerings))
}

func (m *mockService) GetOfferings(ctx context.Context, jobID string) ([]model.Offering, error) {
	args := m.Called(ctx, jobID)
	offerings, _ := args.Get(0).([]model.Offering)
	return offerings, args.Error(1)
}

func (m *mockService) AddCustomField(ctx context.Context, offeringID, key string, value any, typ model.FieldType, label string) (*model.Offering, error) {
	return m.offering(m.Called(ctx, offeringID, key, value, typ, label))
}

func (m *mockService) UpdateCustomField(ctx context.Context, offeringID, key string, value any) (*model.Offering, error) {
	return m.offering(m.Called(ctx, offeringID, key, value))
}

func (m *mockService) RemoveCustomField(ctx context.Context, offeringID, key string) (*model.Offering, error) {
	return m.offering(m.Called(ctx, offeringID, key))
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func errorCode(t *testing.T, env map[string]json.RawMessage) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(env["error"], &body))
	return body.Code
}

func TestHealth(t *testing.T) {
	h := NewRouter(&mockService{}, Options{})
	rec, env := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env["data"]))
}

func TestStartJob(t *testing.T) {
	svc := &mockService{}
	job := &model.Job{ID: "job-1", URL: "https://berber.example", CurrentPhase: model.PhaseSmartPageSelection, Status: model.JobStatusInProgress}
	svc.On("StartOnboarding", mock.Anything, "https://berber.example", "user-1").Return(job, nil)
	h := NewRouter(svc, Options{})

	rec, env := do(t, h, http.MethodPost, "/api/v1/jobs", `{"url":"https://berber.example","user_id":"user-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var got model.Job
	require.NoError(t, json.Unmarshal(env["data"], &got))
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, model.PhaseSmartPageSelection, got.CurrentPhase)
	svc.AssertExpectations(t)
}

func TestStartJob_Validation(t *testing.T) {
	svc := &mockService{}
	h := NewRouter(svc, Options{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "missing url", body: `{"user_id":"user-1"}`, code: "VALIDATION"},
		{name: "not a url", body: `{"url":"berber"}`, code: "VALIDATION"},
		{name: "malformed json", body: `{"url":`, code: "VALIDATION"},
		{name: "unknown field", body: `{"url":"https://berber.example","extra":1}`, code: "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, env))
		})
	}
	svc.AssertNotCalled(t, "StartOnboarding", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetJob(t *testing.T) {
	svc := &mockService{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.On("GetJobStatus", mock.Anything, "job-1").Return(&model.Job{ID: "job-1"}, nil)
	svc.On("LastActivity", mock.Anything, "job-1").Return(at, true)
	svc.On("GetJobStatus", mock.Anything, "missing").Return(nil, nil)
	h := NewRouter(svc, Options{})

	rec, env := do(t, h, http.MethodGet, "/api/v1/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		ID           string    `json:"id"`
		LastActivity time.Time `json:"last_activity"`
	}
	require.NoError(t, json.Unmarshal(env["data"], &got))
	assert.Equal(t, "job-1", got.ID)
	assert.True(t, got.LastActivity.Equal(at))

	rec, env = do(t, h, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, env))
}

func TestListJobs(t *testing.T) {
	svc := &mockService{}
	svc.On("ListJobs", mock.Anything, store.JobFilter{UserID: "user-1", Status: model.JobStatusFailed, Limit: 5}).
		Return([]model.Job{{ID: "job-1"}}, nil)
	h := NewRouter(svc, Options{})

	rec, env := do(t, h, http.MethodGet, "/api/v1/jobs?user_id=user-1&status=FAILED&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got []model.Job
	require.NoError(t, json.Unmarshal(env["data"], &got))
	assert.Len(t, got, 1)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/jobs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectPages(t *testing.T) {
	svc := &mockService{}
	urls := []string{"https://berber.example/hizmetler"}
	svc.On("SelectPages", mock.Anything, "job-1", urls).
		Return(&model.Job{ID: "job-1", CurrentPhase: model.PhaseBatchDeepDive, Status: model.JobStatusInProgress}, nil)
	h := NewRouter(svc, Options{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/jobs/job-1/pages", `{"urls":["https://berber.example/hizmetler"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/v1/jobs/job-1/pages", `{"urls":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, env))
	svc.AssertNumberOfCalls(t, "SelectPages", 1)
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "wrong phase", err: resilience.NewError(resilience.KindConflict, "onboarding", eris.New("job is not in the expected phase")), status: http.StatusConflict, code: "CONFLICT"},
		{name: "not found", err: resilience.NewError(resilience.KindNotFound, "onboarding", eris.New("job not found")), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "storage down", err: eris.New("connection reset"), status: http.StatusInternalServerError, code: "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("SkipPageSelection", mock.Anything, "job-1").Return(nil, eris.Wrap(tt.err, "skip"))
			h := NewRouter(svc, Options{})

			rec, env := do(t, h, http.MethodPost, "/api/v1/jobs/job-1/pages/skip", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, env))
			if tt.status >= http.StatusInternalServerError {
				assert.NotContains(t, string(env["error"]), "connection reset")
			}
		})
	}
}

func TestApproveCompanyAndOfferings(t *testing.T) {
	svc := &mockService{}
	svc.On("ApproveCompany", mock.Anything, "job-1", model.CompanyInfo{Name: "Berber Ali"}).
		Return(&model.Job{ID: "job-1", CurrentPhase: model.PhaseOfferingSelection, Status: model.JobStatusInProgress}, nil)
	svc.On("SelectOfferings", mock.Anything, "job-1", []model.Offering{{Name: "Saç Kesimi", Type: model.OfferingTypeService}}).
		Return(&model.Job{ID: "job-1", CurrentPhase: model.PhaseCompletion, Status: model.JobStatusCompleted}, nil)
	svc.On("GetOfferings", mock.Anything, "job-1").Return(nil, nil)
	h := NewRouter(svc, Options{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/jobs/job-1/company", `{"company_info":{"name":"Berber Ali"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/jobs/job-1/offerings", `{"offerings":[{"name":"Saç Kesimi","type":"SERVICE"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, h, http.MethodGet, "/api/v1/jobs/job-1/offerings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env["data"]))
	svc.AssertExpectations(t)
}

func TestCustomFieldRoutes(t *testing.T) {
	svc := &mockService{}
	off := &model.Offering{ID: "off-1", Name: "Saç Kesimi"}
	svc.On("AddCustomField", mock.Anything, "off-1", "not", "Randevulu", model.FieldTypeText, "Not").Return(off, nil)
	svc.On("UpdateCustomField", mock.Anything, "off-1", "sure_dk", float64(45)).Return(off, nil)
	svc.On("RemoveCustomField", mock.Anything, "off-1", "sure_dk").
		Return(nil, eris.Wrap(model.ErrCannotRemoveAIField, "key \"sure_dk\""))
	h := NewRouter(svc, Options{})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/offerings/off-1/fields", `{"key":"not","value":"Randevulu","type":"text","label":"Not"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/api/v1/offerings/off-1/fields", `{"key":"not","value":1,"type":"date"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, env))

	rec, _ = do(t, h, http.MethodPatch, "/api/v1/offerings/off-1/fields/sure_dk", `{"value":45}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, h, http.MethodDelete, "/api/v1/offerings/off-1/fields/sure_dk", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, env))
}

func TestPanicIsRecovered(t *testing.T) {
	svc := &mockService{}
	svc.On("RetryJob", mock.Anything, "job-1").Run(func(mock.Arguments) { panic("boom") })
	h := NewRouter(svc, Options{})

	rec, env := do(t, h, http.MethodPost, "/api/v1/jobs/job-1/retry", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", errorCode(t, env))
}

func TestCORS(t *testing.T) {
	h := NewRouter(&mockService{}, Options{AllowedOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	h := NewRouter(&mockService{}, Options{})
	rec, env := do(t, h, http.MethodGet, "/api/v2/jobs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, env))
}
