package onboarding

import (
	"github.com/sells-group/onboarding-cli/internal/model"
)

// patchBuilder collects the changes of one job write. Progress and usage
// start from the job's stored values so a write never drops earlier steps.
type patchBuilder struct {
	data     model.PhaseData
	progress model.Progress
	usage    *model.Usage
	phase    *model.Phase
	status   *model.JobStatus
	err      error
}

func newPatch(job *model.Job) *patchBuilder {
	b := &patchBuilder{data: model.PhaseData{}}
	prog, err := job.PhaseData.Progress()
	if err != nil {
		b.err = err
		prog = model.Progress{}
	}
	b.progress = prog
	if u, err := job.PhaseData.Usage(); err == nil {
		b.usage = &u
	} else {
		b.err = err
	}
	return b
}

// put stores v under the phase key.
func (b *patchBuilder) put(phase model.Phase, v any) *patchBuilder {
	return b.putKey(string(phase), v)
}

func (b *patchBuilder) putKey(key string, v any) *patchBuilder {
	if b.err == nil {
		b.err = b.data.Put(key, v)
	}
	return b
}

func (b *patchBuilder) step(phase model.Phase, step model.Step) *patchBuilder {
	b.progress = b.progress.With(phase, step)
	b.data[model.KeyProgress] = nil
	return b
}

func (b *patchBuilder) addUsage(u model.Usage) *patchBuilder {
	if u.Calls == 0 && u.Cost == 0 {
		return b
	}
	b.usage.Add(u)
	b.data[model.KeyUsage] = nil
	return b
}

func (b *patchBuilder) moveTo(phase model.Phase) *patchBuilder {
	b.phase = model.PhasePtr(phase)
	return b
}

func (b *patchBuilder) setStatus(s model.JobStatus) *patchBuilder {
	b.status = model.StatusPtr(s)
	return b
}

func (b *patchBuilder) build() (model.JobPatch, error) {
	if _, ok := b.data[model.KeyProgress]; ok {
		b.putKey(model.KeyProgress, b.progress)
	}
	if _, ok := b.data[model.KeyUsage]; ok {
		b.putKey(model.KeyUsage, b.usage)
	}
	if b.err != nil {
		return model.JobPatch{}, b.err
	}
	return model.JobPatch{CurrentPhase: b.phase, Status: b.status, PhaseData: b.data}, nil
}
