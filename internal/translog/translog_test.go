package translog

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	setCall int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(key string, value []byte) error {
	m.setCall++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

var base = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func tx(id, entity string, at time.Duration) Transmission {
	return Transmission{ID: id, EntityName: entity, Timestamp: base.Add(at), Content: "c-" + id, Mode: "murmur"}
}

func TestAppend_NewestFirstAndCapacity(t *testing.T) {
	l := New(newMemKV(), 3, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(tx(fmt.Sprint(i), "ember", time.Duration(i)*time.Hour)))
		assert.LessOrEqual(t, l.Len(), 3)
	}

	items := l.List(0, 0)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"4", "3", "2"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestAppend_OutOfOrderKeepsMostRecent(t *testing.T) {
	l := New(newMemKV(), 3, nil)
	require.NoError(t, l.Append(tx("b", "e", 2*time.Hour)))
	require.NoError(t, l.Append(tx("d", "e", 4*time.Hour)))
	require.NoError(t, l.Append(tx("a", "e", 1*time.Hour)))
	require.NoError(t, l.Append(tx("c", "e", 3*time.Hour)))

	items := l.List(0, 0)
	require.Len(t, items, 3)
	assert.Equal(t, "d", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
	assert.Equal(t, "b", items[2].ID)
}

func TestMarkReadAndUnread(t *testing.T) {
	l := New(newMemKV(), 0, nil)
	assert.Equal(t, DefaultCapacity, l.Capacity())

	require.NoError(t, l.Append(tx("1", "ember", 0)))
	require.NoError(t, l.Append(tx("2", "ember", time.Hour)))
	assert.Equal(t, 2, l.UnreadCount())

	require.NoError(t, l.MarkRead("1"))
	require.NoError(t, l.MarkRead("1"), "marking twice is a no-op")
	assert.Equal(t, 1, l.UnreadCount())

	err := l.MarkRead("nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	n, err := l.MarkAllRead()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, l.UnreadCount())
}

func TestCountSinceAndLatest(t *testing.T) {
	l := New(newMemKV(), 10, nil)
	require.NoError(t, l.Append(tx("1", "ember", 0)))
	require.NoError(t, l.Append(tx("2", "ember", 3*24*time.Hour)))
	require.NoError(t, l.Append(tx("3", "green-godmother", 4*24*time.Hour)))

	assert.Equal(t, 2, l.CountSince("ember", base))
	assert.Equal(t, 1, l.CountSince("ember", base.Add(time.Hour)))
	assert.Equal(t, 1, l.CountSince("green-godmother", base))
	assert.Zero(t, l.CountSince("the-hermit", base))

	latest, ok := l.LatestFor("ember")
	require.True(t, ok)
	assert.Equal(t, "2", latest.ID)
	_, ok = l.LatestFor("the-hermit")
	assert.False(t, ok)
}

func TestList_Pagination(t *testing.T) {
	l := New(newMemKV(), 10, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(tx(fmt.Sprint(i), "e", time.Duration(i)*time.Minute)))
	}
	page := l.List(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "3", page[0].ID)
	assert.Equal(t, "2", page[1].ID)
	assert.Nil(t, l.List(10, 2))
	assert.Len(t, l.List(-1, 0), 5)
}

func TestListUnread_PagesAfterFiltering(t *testing.T) {
	l := New(newMemKV(), 50, nil)
	require.NoError(t, l.Append(tx("old", "e", 0)))
	for i := 1; i <= 20; i++ {
		id := fmt.Sprint(i)
		require.NoError(t, l.Append(tx(id, "e", time.Duration(i)*time.Minute)))
		require.NoError(t, l.MarkRead(id))
	}
	require.NoError(t, l.Append(tx("new", "e", time.Hour)))

	items := l.ListUnread(0, 20)
	require.Len(t, items, 2)
	assert.Equal(t, "new", items[0].ID)
	assert.Equal(t, "old", items[1].ID)

	items = l.ListUnread(1, 1)
	require.Len(t, items, 1)
	assert.Equal(t, "old", items[0].ID)
	assert.Nil(t, l.ListUnread(2, 0))
}

func TestCorruptOrUnreadableStateIsEmpty(t *testing.T) {
	kv := newMemKV()
	kv.data[Key] = []byte("{not json")
	l := New(kv, 5, nil)
	assert.Zero(t, l.Len())
	assert.Zero(t, l.UnreadCount())

	require.NoError(t, l.Append(tx("1", "e", 0)))
	assert.Equal(t, 1, l.Len(), "append over corrupt state starts fresh")

	kv.getErr = errors.New("disk gone")
	assert.Zero(t, l.Len())
	assert.Zero(t, l.CountSince("e", base.Add(-time.Hour)))
}

func TestAppend_WriteErrorSurfaces(t *testing.T) {
	kv := newMemKV()
	kv.setErr = errors.New("read-only")
	l := New(kv, 5, nil)
	err := l.Append(tx("1", "e", 0))
	assert.ErrorContains(t, err, "read-only")
}
