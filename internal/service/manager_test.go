package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/testutil"
)

func TestManager_CreateAndGet(t *testing.T) {
	store := newMemStore()
	m := NewManager(store)
	ctx := context.Background()

	opts := models.DefaultOptions()
	opts.MgfDir = "/data"
	s, err := m.Create(ctx, KindTree, opts)
	require.NoError(t, err)
	assert.Len(t, s.ID, 8)
	assert.Equal(t, SessionPending, s.Snapshot().Status)

	rec := store.get(s.ID)
	assert.Equal(t, KindTree, rec.Kind)
	assert.Equal(t, string(SessionPending), rec.Status)
	assert.Equal(t, "/data", rec.Options.MgfDir)
	assert.Equal(t, "session", rec.ID.Table)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ListMostRecentFirst(t *testing.T) {
	m := NewManager(nil)
	older := newSession("old", KindTree, models.DefaultOptions())
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := newSession("new", KindSpecies, models.DefaultOptions())
	m.Register(older)
	m.Register(newer)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}

func TestManager_Remove(t *testing.T) {
	f := newFixture(t)
	f.tools.SetCompareDelay(t, "1")
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	s, err := f.trees.Start(context.Background(), treeOptions(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Remove(ctx, s.ID))

	assert.Equal(t, SessionStopped, s.Snapshot().Status)
	_, err = f.manager.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.manager.Remove(ctx, s.ID), ErrNotFound)
	assert.Empty(t, f.store.get(s.ID).Kind)
}

func TestManager_StopAll(t *testing.T) {
	f := newFixture(t)
	f.tools.SetCompareDelay(t, "1")
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	s1, err := f.trees.Start(context.Background(), treeOptions(dir))
	require.NoError(t, err)
	s2, err := f.trees.Start(context.Background(), treeOptions(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	f.manager.StopAll(ctx)

	assert.True(t, s1.Snapshot().Done())
	assert.True(t, s2.Snapshot().Done())
}

func TestManager_ResumeIncompleteSessions(t *testing.T) {
	f := newFixture(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	tree := models.SessionRecord{
		ID:        models.SessionRecordID("tree0001"),
		Kind:      KindTree,
		Status:    string(SessionRunning),
		Options:   treeOptions(dir),
		Samples:   []string{"c.mgf", "b.mgf", "a.mgf"},
		StartedAt: time.Now().Add(-time.Minute),
	}
	species := models.SessionRecord{ID: models.SessionRecordID("spec0001"), Kind: KindSpecies, Status: string(SessionRunning)}
	f.store.incomplete = []models.SessionRecord{tree, species}
	require.NoError(t, f.store.CreateSession(context.Background(), tree))

	require.NoError(t, f.manager.ResumeIncompleteSessions(context.Background(), f.trees))

	s, err := f.manager.Get("tree0001")
	require.NoError(t, err)
	snap := waitSession(t, s)
	require.Equal(t, SessionCompleted, snap.Status, snap.Error)
	assert.Equal(t, []string{"c.mgf", "b.mgf", "a.mgf"}, snap.Samples)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, string(SessionCompleted), f.store.get("tree0001").Status)

	_, err = f.manager.Get("spec0001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ResumeWithoutStore(t *testing.T) {
	m := NewManager(nil)
	assert.NoError(t, m.ResumeIncompleteSessions(context.Background(), nil))
	assert.Empty(t, m.List())
}
