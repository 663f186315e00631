package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAt(t *testing.T, r *ViolationRepository, pkg, category string, at time.Time) ViolationLog {
	t.Helper()
	v := ViolationLog{PackageName: pkg, Category: category, Confidence: 0.9, Timestamp: at.UnixMilli(), LockedOut: true}
	require.NoError(t, r.Append(t.Context(), &v))
	return v
}

func TestViolationAppendAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := appendAt(t, s.Violations(), "com.a", "gambling", epoch)
	b := appendAt(t, s.Violations(), "com.a", "gambling", epoch)
	assert.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)
}

func TestViolationQueries(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := t.Context()
	r := s.Violations()

	appendAt(t, r, "com.a", "gambling", epoch.Add(-48*time.Hour))
	appendAt(t, r, "com.b", "explicit-content", epoch.Add(-time.Hour))
	appendAt(t, r, "com.a", "gambling", epoch)

	recent, err := r.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, epoch.UnixMilli(), recent[0].Timestamp)

	forA, err := r.ForPackage(ctx, "com.a", 0)
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	between, err := r.Between(ctx, epoch.Add(-2*time.Hour), epoch)
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, "com.b", between[0].PackageName)

	counts, err := r.CountByCategory(ctx, epoch.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"gambling": 1, "explicit-content": 1}, counts)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestViolationRetention(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := t.Context()
	r := s.Violations()

	appendAt(t, r, "com.a", "gambling", epoch.Add(-31*24*time.Hour))
	appendAt(t, r, "com.a", "gambling", epoch.Add(-29*24*time.Hour))

	removed, err := r.DeleteOlderThan(ctx, epoch.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
