package workflows

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/database"
	"martingalian/internal/jobs"
)

func testPosition() *database.Position {
	return &database.Position{ID: 42, AccountID: 7, Status: database.StatusActive}
}

func TestBuilderStampsScopeOnEveryStep(t *testing.T) {
	b := newBuilder(Wap, testPosition())
	b.add(0, jobs.JobRecalcWap, nil)
	b.add(1, jobs.JobModifyProfit, nil)

	require.Len(t, b.steps, 2)
	for _, s := range b.steps {
		assert.Equal(t, Wap, s.Workflow)
		assert.Equal(t, b.block, s.BlockUUID)
		require.NotNil(t, s.AccountID)
		assert.EqualValues(t, 7, *s.AccountID)
		require.NotNil(t, s.PositionID)
		assert.EqualValues(t, 42, *s.PositionID)
	}
	assert.Equal(t, 0, b.steps[0].Index)
	assert.Equal(t, 1, b.steps[1].Index)
}

func TestBuilderAttachesOrderID(t *testing.T) {
	b := newBuilder(Correct, testPosition())
	b.addOrder(0, jobs.JobCorrectOrder, 99, nil)

	require.NotNil(t, b.steps[0].OrderID)
	assert.EqualValues(t, 99, *b.steps[0].OrderID)
}

func TestTransitionParamsRoundTrip(t *testing.T) {
	raw := marshalParams(transition(database.StatusWaping, database.StatusActive))

	var decoded struct {
		From database.PositionStatus `json:"from"`
		To   database.PositionStatus `json:"to"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, database.StatusWaping, decoded.From)
	assert.Equal(t, database.StatusActive, decoded.To)
}

func TestFinalizeParamsCarryReason(t *testing.T) {
	raw := marshalParams(finalize(ReasonProfit))

	var decoded struct {
		CloseReason string `json:"close_reason"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ReasonProfit, decoded.CloseReason)
}

func TestMarshalParamsNil(t *testing.T) {
	assert.Nil(t, marshalParams(nil))
}
