package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseData_PutDecode(t *testing.T) {
	d := PhaseData{}
	in := DiscoveryData{
		SectorAnalysis: &SectorAnalysis{Sector: "beauty", Confidence: 0.9},
		SuggestedPages: []SuggestedPage{{URL: "https://x.com/services", Type: PageTypeServiceListing, Priority: PriorityHigh}},
	}
	require.NoError(t, d.Put(string(PhaseSmartDiscovery), in))

	var out DiscoveryData
	ok, err := d.Decode(string(PhaseSmartDiscovery), &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)

	ok, err = d.Decode("missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPhaseData_HasIgnoresNull(t *testing.T) {
	d := PhaseData{"a": json.RawMessage(`null`), "b": json.RawMessage(`{}`)}
	assert.False(t, d.Has("a"))
	assert.True(t, d.Has("b"))
	assert.False(t, d.Has("c"))
}

func TestPhaseData_MergeNeverDrops(t *testing.T) {
	a := PhaseData{"x": json.RawMessage(`1`), "y": json.RawMessage(`2`)}
	b := PhaseData{"y": json.RawMessage(`3`), "z": json.RawMessage(`4`)}
	m := a.Merge(b)
	assert.Len(t, m, 3)
	assert.Equal(t, json.RawMessage(`3`), m["y"])

	assert.Len(t, a.Merge(nil), 2)
	assert.Len(t, PhaseData(nil).Merge(b), 2)
}

func TestPhaseData_DecodeError(t *testing.T) {
	d := PhaseData{KeyProgress: json.RawMessage(`"not a map"`)}
	_, err := d.Progress()
	assert.Error(t, err)
}

func TestDeepDiveData_Batches(t *testing.T) {
	d := DeepDiveData{Batches: []DeepDiveResult{
		{BatchNumber: 1, Offerings: []Offering{{Name: "a"}}},
		{BatchNumber: 2, Offerings: []Offering{{Name: "b"}, {Name: "c"}}},
	}}
	assert.True(t, d.BatchDone(2))
	assert.False(t, d.BatchDone(3))
	assert.Len(t, d.AllOfferings(), 3)
	assert.Equal(t, "c", d.AllOfferings()[2].Name)
}

func TestUsage_Add(t *testing.T) {
	u := Usage{Calls: 1, InputTokens: 100, OutputTokens: 10, Cost: 0.01}
	u.Add(Usage{Calls: 2, InputTokens: 50, OutputTokens: 5, CacheReadTokens: 7, Cost: 0.02})
	assert.Equal(t, 3, u.Calls)
	assert.Equal(t, 165, u.TotalTokens())
	assert.Equal(t, 7, u.CacheReadTokens)
	assert.InDelta(t, 0.03, u.Cost, 1e-9)
}
