package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessionwatcher/watcher/internal/ratelimit"
	"github.com/sessionwatcher/watcher/internal/testjsonl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T, projectEncoded string, sessions map[string]string) string {
	t.Helper()
	root := t.TempDir()
	projDir := filepath.Join(root, projectEncoded)
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	for name, content := range sessions {
		require.NoError(t, os.WriteFile(filepath.Join(projDir, name+".jsonl"), []byte(content), 0o644))
	}
	return root
}

func testConfig(persist bool, stateDir string) IndexConfig {
	cfg := DefaultIndexConfig()
	cfg.Persist = persist
	return cfg
}

func TestGetIndexBuildsOnFirstCall(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(
			testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
			testjsonl.SummaryRecord("session one"),
		),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	idx, err := ix.GetIndex()
	require.NoError(t, err)

	require.Len(t, idx.Sessions, 1)
	session := idx.Sessions["sess1"]
	require.NotNil(t, session)
	require.NotNil(t, session.Summary)
	assert.Equal(t, "session one", *session.Summary)
	assert.Equal(t, "app", session.ProjectDisplayName)

	require.Len(t, idx.Projects, 1)
	proj := idx.Projects["-Users-alice-work-app"]
	require.NotNil(t, proj)
	assert.ElementsMatch(t, []string{"sess1"}, proj.SessionIDs)
}

func TestGetIndexIsStableAcrossCalls(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	first, err := ix.GetIndex()
	require.NoError(t, err)
	second, err := ix.GetIndex()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRefreshForceBypassesRateLimit(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	_, err := ix.Refresh(true)
	require.NoError(t, err)
	_, err = ix.Refresh(true)
	require.NoError(t, err)
}

func TestRefreshRateLimitedWithoutForce(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	_, err := ix.Refresh(false)
	require.NoError(t, err)

	_, err = ix.Refresh(false)
	require.Error(t, err)
	retryAfter, ok := ratelimit.IsRateLimited(err)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 0)
}

func TestIncrementalRefreshSkipsUnchangedFiles(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	first, err := ix.GetIndex()
	require.NoError(t, err)
	info1 := first.Sessions["sess1"]
	require.NotNil(t, info1)

	second, err := ix.Refresh(true)
	require.NoError(t, err)
	info2 := second.Sessions["sess1"]
	require.NotNil(t, info2)

	assert.Same(t, info1, info2, "unchanged session should carry its SessionInfo pointer across refreshes")
}

func TestIncrementalRefreshRemovesDeletedFiles(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
		"sess2": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	idx, err := ix.GetIndex()
	require.NoError(t, err)
	require.Len(t, idx.Sessions, 2)

	require.NoError(t, os.Remove(filepath.Join(root, "-Users-alice-work-app", "sess2.jsonl")))

	idx, err = ix.Refresh(true)
	require.NoError(t, err)
	require.Len(t, idx.Sessions, 1)
	_, stillThere := idx.Sessions["sess2"]
	assert.False(t, stillThere)

	proj := idx.Projects["-Users-alice-work-app"]
	require.NotNil(t, proj)
	assert.ElementsMatch(t, []string{"sess1"}, proj.SessionIDs)
}

func TestIncrementalRefreshPicksUpModifiedFile(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	idx, err := ix.GetIndex()
	require.NoError(t, err)
	assert.Nil(t, idx.Sessions["sess1"].Summary)

	path := filepath.Join(root, "-Users-alice-work-app", "sess1.jsonl")
	newContent := testjsonl.Session(
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
		testjsonl.SummaryRecord("now summarized"),
	)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte(newContent), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	idx, err = ix.Refresh(true)
	require.NoError(t, err)
	require.NotNil(t, idx.Sessions["sess1"].Summary)
	assert.Equal(t, "now summarized", *idx.Sessions["sess1"].Summary)
}

func TestGetSessionAndGetProject(t *testing.T) {
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	assert.Nil(t, ix.GetSession("sess1"), "not initialised yet")
	assert.Nil(t, ix.GetProject("-Users-alice-work-app"))

	_, err := ix.GetIndex()
	require.NoError(t, err)

	assert.NotNil(t, ix.GetSession("sess1"))
	assert.NotNil(t, ix.GetProject("-Users-alice-work-app"))
	assert.Nil(t, ix.GetSession("does-not-exist"))
}

func TestPersistedIndexDiscardedWhenStale(t *testing.T) {
	stateDir := t.TempDir()
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	stale := newSessionIndex(time.Now().Add(-2 * time.Hour))
	stale.LastRefresh = time.Now().Add(-2 * time.Hour)
	stale.Sessions["ghost"] = &SessionInfo{SessionID: "ghost"}
	require.NoError(t, saveIndex(stateDir, stale))

	cfg := DefaultIndexConfig()
	cfg.MaxIndexAgeHours = 1.0
	ix := New([]string{root}, cfg, stateDir, discardLogger())

	idx, err := ix.GetIndex()
	require.NoError(t, err)

	_, hasGhost := idx.Sessions["ghost"]
	assert.False(t, hasGhost, "stale persisted index must be discarded, not incrementally refreshed")
	assert.Contains(t, idx.Sessions, "sess1")
}

func TestPersistedIndexReusedWhenFresh(t *testing.T) {
	stateDir := t.TempDir()
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	fresh := newSessionIndex(time.Now())
	fresh.LastRefresh = time.Now()
	require.NoError(t, saveIndex(stateDir, fresh))

	cfg := DefaultIndexConfig()
	cfg.MaxIndexAgeHours = 1.0
	ix := New([]string{root}, cfg, stateDir, discardLogger())

	idx, err := ix.GetIndex()
	require.NoError(t, err)
	assert.Contains(t, idx.Sessions, "sess1")
}

func TestRefreshPersistsIndexToDisk(t *testing.T) {
	stateDir := t.TempDir()
	root := newTestRoot(t, "-Users-alice-work-app", map[string]string{
		"sess1": testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	})

	cfg := DefaultIndexConfig()
	ix := New([]string{root}, cfg, stateDir, discardLogger())

	_, err := ix.GetIndex()
	require.NoError(t, err)

	_, err = os.Stat(indexFilePath(stateDir))
	assert.NoError(t, err)
}

func TestHasSubagentsFlagOnSessionInfo(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-Users-alice-work-app")
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "sess1.jsonl"), []byte(
		testjsonl.Session(testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z")),
	), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(projDir, "sess1", "subagents"), 0o755))

	ix := New([]string{root}, testConfig(false, ""), "", discardLogger())
	idx, err := ix.GetIndex()
	require.NoError(t, err)
	assert.True(t, idx.Sessions["sess1"].HasSubagents)
}
