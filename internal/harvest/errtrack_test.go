package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReturnsKnownRemediation(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	remedy := tracker.Record(CategoryLowItems, 4, "only 10 items")

	assert.Contains(t, remediations[CategoryLowItems], remedy)

	records := tracker.Records(CategoryLowItems)
	require.Len(t, records, 1)
	assert.Equal(t, 4, records[0].PageNum)
	assert.Equal(t, "only 10 items", records[0].Message)
	assert.Equal(t, remedy, records[0].Remediation)
	assert.False(t, records[0].Resolved)
}

func TestSuggestUnknownCategory(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	assert.Equal(t, "generic retry", tracker.Suggest(Category("surprise")))
}

func TestMarkResolvedFlagsOldestUnresolved(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	tracker.Record(CategoryTimeout, 7, "first attempt")
	tracker.Record(CategoryTimeout, 7, "second attempt")

	tracker.MarkResolved(CategoryTimeout, 7)

	records := tracker.Records(CategoryTimeout)
	require.Len(t, records, 2)
	assert.True(t, records[0].Resolved)
	assert.False(t, records[1].Resolved)
}

func TestMarkResolvedDifferentPageIsNoop(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	tracker.Record(CategoryTimeout, 7, "timeout")
	tracker.MarkResolved(CategoryTimeout, 8)

	assert.False(t, tracker.Records(CategoryTimeout)[0].Resolved)
}

func TestResolveAllCoversEveryCategory(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	tracker.Record(CategoryLowItems, 3, "thin page")
	tracker.Record(CategoryTimeout, 3, "slow page")
	tracker.Record(CategoryConnection, 9, "refused")

	tracker.ResolveAll(3)

	assert.True(t, tracker.Records(CategoryLowItems)[0].Resolved)
	assert.True(t, tracker.Records(CategoryTimeout)[0].Resolved)
	assert.False(t, tracker.Records(CategoryConnection)[0].Resolved, "other pages stay unresolved")
}

func TestSummaryOrdersByDescendingTotal(t *testing.T) {
	t.Parallel()

	tracker := NewErrorTracker(nil)
	tracker.Record(CategoryTimeout, 1, "t1")
	tracker.Record(CategoryLowItems, 2, "l1")
	tracker.Record(CategoryLowItems, 3, "l2")
	tracker.Record(CategoryLowItems, 4, "l3")
	tracker.MarkResolved(CategoryLowItems, 2)

	summary := tracker.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, CategoryLowItems, summary[0].Category)
	assert.Equal(t, 3, summary[0].Total)
	assert.Equal(t, 1, summary[0].Resolved)
	assert.Equal(t, CategoryTimeout, summary[1].Category)
}
