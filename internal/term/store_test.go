package term

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string, lastActive time.Time) *Record {
	return &Record{
		ID:         id,
		Session:    "amx-test",
		Window:     "analyst-" + id[len(id)-4:],
		Provider:   "claude_code",
		Profile:    "analyst",
		WD:         "/work",
		CreatedAt:  lastActive,
		LastActive: lastActive,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := testRecord("01ARZ3NDEKTSV4RRFFQ69G5FAV", now)
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "amx-test", got.Session)
	assert.Equal(t, "claude_code", got.Provider)
	assert.Equal(t, "analyst", got.Profile)
	assert.Equal(t, "/work", got.WD)
	assert.True(t, got.LastActive.Equal(now), "last_active %v != %v", got.LastActive, now)
}

func TestStoreGetNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListOrdersByCreation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"AAA", "BBB", "CCC"} {
		rec := testRecord(id+"0", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Create(ctx, rec))
	}

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "AAA0", recs[0].ID)
	assert.Equal(t, "CCC0", recs[2].ID)
}

func TestStoreTouch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	rec := testRecord("TOUCH0", created)
	require.NoError(t, s.Create(ctx, rec))

	later := created.Add(30 * time.Minute)
	require.NoError(t, s.Touch(ctx, rec.ID, later))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActive.Equal(later))
}

func TestStoreStale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Create(ctx, testRecord("OLD00", now.AddDate(0, 0, -20))))
	require.NoError(t, s.Create(ctx, testRecord("NEW00", now)))

	stale, err := s.Stale(ctx, now.AddDate(0, 0, -14))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "OLD00", stale[0].ID)
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("DEL00", time.Now().UTC())
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.ID))

	_, err := s.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent row is not an error.
	require.NoError(t, s.Delete(ctx, rec.ID))
}
