package indexer

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func TestSaveAndLoadIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	idx := newSessionIndex(now)
	idx.Sessions["s1"] = &SessionInfo{SessionID: "s1", FilePath: "/a/s1.jsonl", ModifiedAt: now}
	idx.Projects["p1"] = &ProjectInfo{EncodedName: "p1"}
	idx.FileMtimes["/a/s1.jsonl"] = 123.456
	idx.LastRefresh = now

	require.NoError(t, saveIndex(dir, idx))

	_, err := os.Stat(indexFilePath(dir))
	require.NoError(t, err)

	loaded, ok := loadPersistedIndex(dir, 1.0, now.Add(time.Minute), discardLogger())
	require.True(t, ok)
	assert.Equal(t, 1, len(loaded.Sessions))
	assert.Equal(t, "s1", loaded.Sessions["s1"].SessionID)
	assert.Equal(t, 123.456, loaded.FileMtimes["/a/s1.jsonl"])
}

func TestLoadPersistedIndexMissing(t *testing.T) {
	_, ok := loadPersistedIndex(t.TempDir(), 1.0, time.Now(), discardLogger())
	assert.False(t, ok)
}

func TestLoadPersistedIndexMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(indexFilePath(dir), []byte("{not json"), 0o644))

	_, ok := loadPersistedIndex(dir, 1.0, time.Now(), discardLogger())
	assert.False(t, ok)
}

func TestLoadPersistedIndexTooOld(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	idx := newSessionIndex(old)
	idx.LastRefresh = old
	require.NoError(t, saveIndex(dir, idx))

	now := old.Add(2 * time.Hour)
	_, ok := loadPersistedIndex(dir, 1.0, now, discardLogger())
	assert.False(t, ok)
}

func TestSaveIndexAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	first := newSessionIndex(now)
	require.NoError(t, saveIndex(dir, first))

	second := newSessionIndex(now)
	second.Sessions["s1"] = &SessionInfo{SessionID: "s1"}
	require.NoError(t, saveIndex(dir, second))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files")
	assert.Equal(t, indexFileName, entries[0].Name())

	loaded, ok := loadPersistedIndex(dir, 1000, now.Add(time.Second), discardLogger())
	require.True(t, ok)
	assert.Len(t, loaded.Sessions, 1)
}

func TestSaveIndexCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	require.NoError(t, saveIndex(dir, newSessionIndex(time.Now())))
	_, err := os.Stat(indexFilePath(dir))
	assert.NoError(t, err)
}
