package execution

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordAndLookup(t *testing.T) {
	j := NewJournal()

	first := AtomicExecutionResult{ExecutionID: uuid.New(), Success: true, RollbackCostUSD: decimal.Zero}
	second := AtomicExecutionResult{ExecutionID: uuid.New(), Success: false, RollbackCostUSD: decimal.Zero}
	j.Record(first)
	j.Record(second)

	got, ok := j.Get(first.ExecutionID)
	require.True(t, ok)
	assert.True(t, got.Success)

	_, ok = j.Get(uuid.New())
	require.False(t, ok)

	list := j.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ExecutionID, list[0].ExecutionID)
	assert.Equal(t, second.ExecutionID, list[1].ExecutionID)

	// Re-recording updates in place without duplicating the entry.
	first.Success = false
	j.Record(first)
	require.Len(t, j.List(), 2)
	got, _ = j.Get(first.ExecutionID)
	assert.False(t, got.Success)
}
