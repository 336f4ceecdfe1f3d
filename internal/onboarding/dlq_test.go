package onboarding

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

func TestSweepDLQ_RecoversTransientFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.sc.On("Scrape", mock.Anything, site).
		Return(nil, resilience.HTTPError("local", 503, eris.New("unavailable"))).Times(2)
	env.expectDiscovery()
	ctx := context.Background()

	job, err := env.o.StartOnboarding(ctx, site, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, job.Status)

	entries, err := env.st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "transient", entries[0].ErrorType)
	assert.Equal(t, resilience.KindServer, entries[0].ErrorKind)

	res, err := env.o.SweepDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Retried: 1, Recovered: 1}, res)

	count, err := env.st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stored, err := env.o.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSmartPageSelection, stored.CurrentPhase)
}

func TestSweepDLQ_BacksOffUntilExhausted(t *testing.T) {
	env := newTestEnv(t, Config{DLQMaxRetries: 2})
	env.sc.On("Scrape", mock.Anything, site).
		Return(nil, resilience.HTTPError("local", 502, eris.New("bad gateway")))
	ctx := context.Background()

	job, err := env.o.StartOnboarding(ctx, site, "user-1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, job.Status)

	for i := 1; i <= 2; i++ {
		res, err := env.o.SweepDLQ(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Retried: 1}, res)

		entries, err := env.st.ListDLQ(ctx, resilience.DLQFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, i, entries[0].RetryCount)
		assert.True(t, entries[0].NextRetryAt.Equal(testNow.Add(resilience.NextRetryDelay(i))))
	}

	res, err := env.o.SweepDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Retried)

	stored, err := env.o.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	errs, err := stored.PhaseData.Errors()
	require.NoError(t, err)
	assert.Len(t, errs, 3)
}

func TestSweepDLQ_SkipsPermanentFailures(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.sc.On("Scrape", mock.Anything, site).
		Return(nil, resilience.HTTPError("local", 404, eris.New("page not found")))
	ctx := context.Background()

	_, err := env.o.StartOnboarding(ctx, site, "user-1")
	require.NoError(t, err)

	res, err := env.o.SweepDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	env.sc.AssertNumberOfCalls(t, "Scrape", 1)
}
