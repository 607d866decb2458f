package habits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitsync/internal/docstore"
	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/models"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "users/u1/logs/2024-03-05/sessions/1700000000000", SessionPath("u1", "2024-03-05", 1700000000000))
	assert.Equal(t, "users/u1/tags/t1", TagPath("u1", "t1"))
}

func TestRemoteReplayIsIdempotent(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewRemote(mem)
	ctx := context.Background()
	session := models.Session{Timestamp: 42, Text: "walk"}

	require.NoError(t, r.AddSession(ctx, "u1", "2024-03-05", session))
	require.NoError(t, r.AddSession(ctx, "u1", "2024-03-05", session))

	dayLog, err := r.FetchDayLog(ctx, "u1", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, dayLog.Sessions, 1)
	assert.Equal(t, "walk", dayLog.Sessions[0].Text)

	require.NoError(t, r.DeleteSession(ctx, "u1", "2024-03-05", 42))
	require.NoError(t, r.DeleteSession(ctx, "u1", "2024-03-05", 42))

	dayLog, err = r.FetchDayLog(ctx, "u1", "2024-03-05")
	require.NoError(t, err)
	assert.Empty(t, dayLog.Sessions)
}

func TestRemoteFetchTagsFillsIDs(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewRemote(mem)
	ctx := context.Background()
	require.NoError(t, mem.Write(ctx, TagPath("u1", "legacy"), map[string]interface{}{"name": "Old", "createdAt": 5}))
	require.NoError(t, r.CreateTag(ctx, "u1", models.Tag{ID: "new", Name: "New", CreatedAt: 1}))

	tags, err := r.FetchTags(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "new", tags[0].ID)
	assert.Equal(t, "legacy", tags[1].ID)

	empty, err := r.FetchTags(ctx, "u2")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRemoteRejectsMissingIDs(t *testing.T) {
	r := NewRemote(docstore.NewMemory())
	ctx := context.Background()

	assert.True(t, apperrors.Is(r.AddSession(ctx, "", "d", models.Session{}), apperrors.ErrInvalid))
	assert.True(t, apperrors.Is(r.CreateTag(ctx, "u1", models.Tag{}), apperrors.ErrInvalid))
	assert.True(t, apperrors.Is(r.DeleteTag(ctx, "u1", ""), apperrors.ErrInvalid))
	_, err := r.FetchDayLog(ctx, "u1", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}
