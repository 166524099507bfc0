package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/resonance/internal/event"
	"github.com/stellarlinkco/resonance/internal/translog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "resonance.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKV(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("k", []byte("v1")))
	require.NoError(t, s.Set("k", []byte("v2")))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestEntriesRoundTripOrdering(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 10, 21, 30, 0, 0, time.UTC)

	id, err := s.AddEntry(event.Entry{EntityName: "coffee", Timestamp: now, Reflection: "jittery"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = s.AddEntry(event.Entry{ID: "e-1", EntityName: "coffee", Timestamp: now.Add(-time.Hour), TimeBucket: event.Morning})
	require.NoError(t, err)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-1", entries[0].ID)
	assert.Equal(t, event.Morning, entries[0].TimeBucket)
	assert.True(t, entries[1].Timestamp.Equal(now))
	assert.Equal(t, "jittery", entries[1].Reflection)

	_, err = s.AddEntry(event.Entry{EntityName: "coffee", Timestamp: now, TimeBucket: "noon"})
	assert.Error(t, err)
	_, err = s.AddEntry(event.Entry{Timestamp: now})
	assert.Error(t, err)
}

func TestAnchorCompletions(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 8, 10, 7, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddAnchorCompletion(event.AnchorCompletion{AnchorID: "walk", AnchorName: "Morning walk", Timestamp: now}))
	assert.Error(t, s.AddAnchorCompletion(event.AnchorCompletion{Timestamp: now}))
	assert.Error(t, s.AddAnchorCompletion(event.AnchorCompletion{AnchorID: "walk", Timestamp: now, TimeBucket: "midnight"}))

	anchors, err := s.AnchorCompletions()
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "Morning walk", anchors[0].AnchorName)
	assert.Equal(t, event.Morning, anchors[0].TimeBucket)

	require.NoError(t, s.AddAnchorCompletion(event.AnchorCompletion{AnchorID: "stretch", Timestamp: now.Add(time.Hour), TimeBucket: "Evening"}))
	anchors, err = s.AnchorCompletions()
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.Equal(t, event.Evening, anchors[1].TimeBucket)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.AnchorCompletions)
}

func TestTransmissionLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resonance.db")
	s1, err := Open(path, nil)
	require.NoError(t, err)
	log1 := translog.New(s1, 5, nil)
	require.NoError(t, log1.Append(translog.Transmission{ID: "t1", EntityName: "the-ember", Timestamp: time.Now()}))
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	log2 := translog.New(s2, 5, nil)
	assert.Equal(t, 1, log2.Len())
	assert.Equal(t, 1, log2.UnreadCount())
}
