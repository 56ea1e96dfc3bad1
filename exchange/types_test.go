// ABOUTME: Tests for the exchange data model: status predicates, placeholders, cloning and JSON round-trips.
// ABOUTME: Round-trip cases cover every enum value and empty stage/attempt lists.
package exchange

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		running  bool
		terminal bool
	}{
		{StatusPlanning, true, false},
		{StatusGenerating, true, false},
		{StatusSuccessful, false, true},
		{StatusFailed, false, true},
		{StatusCancelled, false, true},
		{StatusReverted, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.running, tt.status.IsRunning())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestNewPlaceholder(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	ex := NewPlaceholder("  Build a todo app \n", "", now)

	assert.Equal(t, "temp_1700000000123", ex.ID)
	assert.True(t, ex.IsPlaceholder())
	assert.Equal(t, "Build a todo app", ex.Prompt)
	assert.Equal(t, StatusPlanning, ex.Status)
	assert.Empty(t, ex.Stages)
	assert.NotNil(t, ex.Stages)
	assert.Nil(t, ex.ErrorMessage)
	assert.Nil(t, ex.ProductURL)
	assert.Nil(t, ex.ManagementURL)
}

func TestRoundTripPreservesEveryEnum(t *testing.T) {
	statuses := []Status{StatusPlanning, StatusGenerating, StatusSuccessful, StatusFailed, StatusCancelled, StatusReverted}
	stageStatuses := []StageStatus{StageGenerating, StageCommitting, StageSuccessful, StageFailed}
	attemptStatuses := []AttemptStatus{AttemptRunning, AttemptSuccessful, AttemptFailed}

	for i, st := range statuses {
		ex := Exchange{
			ID:            "ex-1",
			AppID:         "app-1",
			UserID:        "user-1",
			First:         i%2 == 0,
			Prompt:        "make it blue",
			Status:        st,
			ErrorMessage:  StringPtr("boom"),
			ProductURL:    StringPtr("https://p.example"),
			ManagementURL: nil,
			Stages:        []Stage{},
		}
		for j, ss := range stageStatuses {
			stage := Stage{ID: "s", Type: StageTypeBackend, Status: ss, Attempts: []Attempt{}}
			if j%2 == 1 {
				for _, as := range attemptStatuses {
					stage.Attempts = append(stage.Attempts, Attempt{ID: "a", Status: as, ErrorMessage: StringPtr("x")})
				}
			}
			ex.Stages = append(ex.Stages, stage)
		}

		data, err := json.Marshal(ex)
		require.NoError(t, err)

		var decoded Exchange
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, ex, decoded)
	}
}

func TestRoundTripEmptyLists(t *testing.T) {
	ex := Exchange{ID: "ex-2", Status: StatusPlanning, Stages: []Stage{{ID: "s1", Type: StageTypeFrontend, Status: StageGenerating, Attempts: []Attempt{}}}}

	data, err := json.Marshal(ex)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"attempts":[]`)

	var decoded Exchange
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ex, decoded)

	empty := Exchange{ID: "ex-3", Status: StatusFailed, Stages: []Stage{}}
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stages":[]`)
	assert.Contains(t, string(data), `"errorMessage":null`)

	var decodedEmpty Exchange
	require.NoError(t, json.Unmarshal(data, &decodedEmpty))
	assert.Equal(t, empty, decodedEmpty)
}

func TestNilStagesEncodeAsEmptyArray(t *testing.T) {
	data, err := json.Marshal(Exchange{ID: "ex-4"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stages":[]`)
}

func TestCloneIsDeep(t *testing.T) {
	ex := Exchange{
		ID:         "ex-1",
		ProductURL: StringPtr("https://a"),
		Stages: []Stage{{ID: "s1", Attempts: []Attempt{{ID: "a1", ErrorMessage: StringPtr("e")}}}},
	}
	c := ex.Clone()
	*c.ProductURL = "https://b"
	c.Stages[0].Attempts[0].ID = "changed"
	*c.Stages[0].Attempts[0].ErrorMessage = "changed"

	assert.Equal(t, "https://a", *ex.ProductURL)
	assert.Equal(t, "a1", ex.Stages[0].Attempts[0].ID)
	assert.Equal(t, "e", *ex.Stages[0].Attempts[0].ErrorMessage)
}

func TestStageLookup(t *testing.T) {
	ex := Exchange{Stages: []Stage{{ID: "f", Type: StageTypeFrontend}, {ID: "b", Type: StageTypeBackend}}}
	s, ok := ex.Stage(StageTypeBackend)
	require.True(t, ok)
	assert.Equal(t, "b", s.ID)

	_, ok = ex.Stage("DATABASE")
	assert.False(t, ok)
}

func TestWithStatusDoesNotMutateOriginal(t *testing.T) {
	ex := Exchange{ID: "x", Status: StatusGenerating}
	c := ex.WithStatus(StatusCancelled)
	assert.Equal(t, StatusGenerating, ex.Status)
	assert.Equal(t, StatusCancelled, c.Status)
}
