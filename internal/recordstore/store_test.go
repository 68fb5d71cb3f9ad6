package recordstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/pkg/models"
)

func newTestStore(t *testing.T, clock func() time.Time) *Store {
	t.Helper()
	opts := []Option{WithSweepInterval(time.Hour)}
	if clock != nil {
		opts = append(opts, WithClock(clock))
	}
	s, err := Open(filepath.Join(t.TempDir(), "store.db"), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testShare(id string, expire int64) *models.Share {
	return &models.Share{
		ID:        id,
		Owner:     "alice",
		Type:      models.ShareTypeFileRequest,
		Title:     "Invoice",
		Expire:    expire,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	require.NoError(t, s.Put(ctx, testShare("s1", future), IfNotExists()))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice", got.Title)

	err = s.Put(ctx, testShare("s1", future), IfNotExists())
	assert.ErrorIs(t, err, ErrConditionFailed)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "s1"), ErrNotFound)
}

func TestConditionalFulfillmentWrite(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	require.NoError(t, s.Put(ctx, testShare("s1", future), IfNotExists()))

	bound := testShare("s1", future)
	bound.File = "obj-1"
	bound.UploadID = "up-1"
	require.NoError(t, s.Put(ctx, bound, IfFileAbsent()))

	// Second conditional bind loses.
	rival := testShare("s1", future)
	rival.File = "obj-2"
	err := s.Put(ctx, rival, IfFileAbsent())
	assert.ErrorIs(t, err, ErrConditionFailed)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "obj-1", got.File)
}

func TestExpiredRecordInvisibleBeforeSweep(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	s := newTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testShare("s1", now.Add(time.Minute).Unix()), nil))

	now = now.Add(2 * time.Minute)
	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "s1"), ErrNotFound)
}

func TestSweepEmitsExpiryRemoval(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	s := newTestStore(t, clock)
	ctx := context.Background()

	expired := testShare("old", now.Add(time.Minute).Unix())
	expired.File = "obj-old"
	require.NoError(t, s.Put(ctx, expired, nil))
	require.NoError(t, s.Put(ctx, testShare("live", now.Add(time.Hour).Unix()), nil))

	now = now.Add(2 * time.Minute)
	removed, err := s.sweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)

	st := s.Stream("test")
	batch, err := st.Next(ctx)
	require.NoError(t, err)
	last := batch[len(batch)-1]
	assert.Equal(t, OpRemove, last.Operation)
	assert.Equal(t, CauseExpiry, last.Cause)
	require.NotNil(t, last.Before)
	assert.Equal(t, "obj-old", last.Before.File)
}

func TestStreamRedeliversUntilAcked(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	require.NoError(t, s.Put(ctx, testShare("s1", future), nil))
	require.NoError(t, s.Put(ctx, testShare("s2", future), nil))

	st := s.Stream("test", WithBatchSize(10), WithPollInterval(10*time.Millisecond))

	first, err := st.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, OpInsert, first[0].Operation)
	assert.Less(t, first[0].Seq, first[1].Seq)

	// Not acked: same batch again.
	again, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first[0].Seq, again[0].Seq)

	require.NoError(t, st.Ack(ctx, first[1].Seq))
	require.NoError(t, s.Delete(ctx, "s1"))

	next, err := st.Next(ctx)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, OpRemove, next[0].Operation)
	assert.Equal(t, CauseUser, next[0].Cause)
	assert.Equal(t, "s1", next[0].Before.ID)
}

func TestListByOwnerSkipsExpired(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	s := newTestStore(t, clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testShare("a", now.Add(time.Hour).Unix()), nil))
	require.NoError(t, s.Put(ctx, testShare("b", now.Add(time.Minute).Unix()), nil))
	other := testShare("c", now.Add(time.Hour).Unix())
	other.Owner = "bob"
	require.NoError(t, s.Put(ctx, other, nil))

	now = now.Add(30 * time.Minute)
	shares, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "a", shares[0].ID)
}
