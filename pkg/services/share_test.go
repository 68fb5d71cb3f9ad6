package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shareloft/shareloft/pkg/models"
	"github.com/shareloft/shareloft/pkg/schemas"
)

func TestCreateShareValidation(t *testing.T) {
	srv, _, _ := newTestService(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name  string
		owner string
		req   *schemas.CreateShare
	}{
		{"missing owner", "", &schemas.CreateShare{Type: models.ShareTypeFile, Title: "x", Expire: future, File: "obj"}},
		{"missing title", "alice", &schemas.CreateShare{Type: models.ShareTypeFile, Expire: future, File: "obj"}},
		{"bad type", "alice", &schemas.CreateShare{Type: "FOLDER", Title: "x", Expire: future}},
		{"file share without file", "alice", &schemas.CreateShare{Type: models.ShareTypeFile, Title: "x", Expire: future}},
		{"request share with file", "alice", &schemas.CreateShare{Type: models.ShareTypeFileRequest, Title: "x", Expire: future, File: "obj"}},
		{"past expiry", "alice", &schemas.CreateShare{Type: models.ShareTypeFileRequest, Title: "x", Expire: time.Now().Add(-time.Minute).Unix()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.CreateShare(ctx, tc.owner, tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateAndListShares(t *testing.T) {
	srv, _, _ := newTestService(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour).Unix()

	out, err := srv.CreateShare(ctx, "alice", &schemas.CreateShare{
		Type:   models.ShareTypeFile,
		Title:  "Report",
		Expire: future,
		File:   "obj-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.True(t, out.Fulfilled)

	createRequestShare(t, srv, future)

	mine, err := srv.ListShares(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := srv.ListShares(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestDeleteShare(t *testing.T) {
	srv, store, _ := newTestService(t)
	ctx := context.Background()
	id := createRequestShare(t, srv, time.Now().Add(time.Hour).Unix())

	// Non-owner: forbidden, record untouched.
	err := srv.DeleteShare(ctx, id, "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = store.Get(ctx, id)
	assert.NoError(t, err)

	require.NoError(t, srv.DeleteShare(ctx, id, "alice"))
	_, err = store.Get(ctx, id)
	assert.Error(t, err)

	assert.ErrorIs(t, srv.DeleteShare(ctx, id, "alice"), ErrNotFound)
	assert.ErrorIs(t, srv.DeleteShare(ctx, "missing", "alice"), ErrNotFound)
}
