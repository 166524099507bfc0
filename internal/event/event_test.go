package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeBucket(t *testing.T) {
	b, err := ParseTimeBucket(" Evening ")
	require.NoError(t, err)
	assert.Equal(t, Evening, b)

	_, err = ParseTimeBucket("noon")
	assert.Error(t, err)
}

func TestBucketFor(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Late, BucketFor(day.Add(2*time.Hour)))
	assert.Equal(t, Morning, BucketFor(day.Add(7*time.Hour)))
	assert.Equal(t, Afternoon, BucketFor(day.Add(13*time.Hour)))
	assert.Equal(t, Evening, BucketFor(day.Add(19*time.Hour)))
	assert.Equal(t, Late, BucketFor(day.Add(23*time.Hour)))
}

func TestWindows(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	recent, previous := Windows(now, 7*24*time.Hour)

	assert.True(t, recent.Contains(now))
	assert.False(t, recent.Contains(now.Add(time.Second)), "future instants are outside")
	assert.False(t, recent.Contains(recent.Start), "start is exclusive")
	assert.True(t, previous.Contains(recent.Start), "boundary belongs to the previous window")
	assert.Equal(t, now.Add(-14*24*time.Hour), previous.Start)

	early, late := recent.Split()
	assert.Equal(t, early.End, late.Start)
	assert.Equal(t, now.Add(-84*time.Hour), early.End)
}
