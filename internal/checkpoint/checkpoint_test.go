package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexindo/harvester/internal/harvest"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "checkpoint.json"), nil)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	state := RunState{
		ScrapedPages: []int{3, 1, 2},
		FailedPages: map[int]harvest.FailureInfo{
			7: {
				Error:        "connection refused",
				RetryCount:   3,
				Timestamp:    time.Now().UTC(),
				FinalFailure: true,
			},
		},
		TotalItems: 60,
	}
	require.NoError(t, store.Save(state))

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, loaded.ScrapedPages, "pages are sorted on save")
	assert.Equal(t, 60, loaded.TotalItems)
	assert.False(t, loaded.Timestamp.IsZero())

	require.Contains(t, loaded.FailedPages, 7)
	assert.True(t, loaded.FailedPages[7].FinalFailure)
	assert.Equal(t, 3, loaded.FailedPages[7].RetryCount)
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	t.Parallel()

	state, ok := testStore(t).Load()
	assert.False(t, ok)
	assert.Empty(t, state.ScrapedPages)
	assert.NotNil(t, state.FailedPages)
	assert.Zero(t, state.TotalItems)
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	state, ok := NewStore(path, nil).Load()
	assert.False(t, ok)
	assert.Empty(t, state.ScrapedPages)
	assert.NotNil(t, state.FailedPages)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	require.NoError(t, store.Save(RunState{ScrapedPages: []int{1}, TotalItems: 20}))
	require.NoError(t, store.Save(RunState{ScrapedPages: []int{1, 2}, TotalItems: 40}))

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, loaded.ScrapedPages)
	assert.Equal(t, 40, loaded.TotalItems)

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "checkpoint.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Save(Empty()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestCheckpointFileIsPlainJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Save(RunState{ScrapedPages: []int{5}, TotalItems: 20}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "scraped_pages")
	assert.Contains(t, raw, "failed_pages")
	assert.Contains(t, raw, "total_items")
	assert.Contains(t, raw, "timestamp")
}

func TestScrapedSet(t *testing.T) {
	t.Parallel()

	state := RunState{ScrapedPages: []int{2, 4, 6}}
	set := state.ScrapedSet()
	assert.True(t, set[2])
	assert.True(t, set[6])
	assert.False(t, set[3])
}
