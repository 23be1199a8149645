package annotation

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/datenest/internal/config/library"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
)

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "db.sqlite3"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	logger := log.NewLoggerServiceWithWriter("test", config.LogConfig{Level: "ERROR"}, io.Discard)
	return NewEngine(s, logger), s
}

func TestNormalize(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	assert.Equal(t, "caf\u00e9", Normalize("  cafe\u0301 "))
	assert.Equal(t, "", Normalize(" \t"))
}

func TestAddTagNormalizesInput(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	user, err := s.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)
	img, _, err := s.UpsertImage(ctx, "x.png", "ab", time.Time{})
	require.NoError(t, err)

	first, err := e.AddTag(ctx, img.ID, " colony ", "Condition", user.ID)
	require.NoError(t, err)
	second, err := e.AddTag(ctx, img.ID, "colony", "condition", user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tags, err := s.ActiveTags(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "colony", tags[0].Name)
	assert.Equal(t, "condition", tags[0].Category)
}

func TestAddTagRejectsInvalidInput(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	user, err := s.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		tag      string
		category string
	}{
		{"empty name", "  ", ""},
		{"unknown category", "colony", "colour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddTag(ctx, 1, tt.tag, tt.category, user.ID)
			assert.ErrorIs(t, err, errdefs.ErrIntegrityViolation)
		})
	}
}

func TestRemoveTag(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	user, err := s.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)
	img, _, err := s.UpsertImage(ctx, "x.png", "ab", time.Time{})
	require.NoError(t, err)

	_, err = e.AddTag(ctx, img.ID, "colony", "", user.ID)
	require.NoError(t, err)

	removed, err := e.RemoveTag(ctx, img.ID, "colony", "", user.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = e.RemoveTag(ctx, img.ID, "colony", "", user.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestVote(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	user, err := s.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)
	img, _, err := s.UpsertImage(ctx, "x.png", "ab", time.Time{})
	require.NoError(t, err)

	_, err = e.Vote(ctx, img.ID, user.ID, "GOOD", nil, time.Time{})
	require.NoError(t, err)
	vote, err := e.Vote(ctx, img.ID, user.ID, "bad", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.LabelBad, vote.Label)
	assert.False(t, vote.CreatedAt.IsZero())

	_, err = e.Vote(ctx, img.ID, user.ID, "meh", nil, time.Time{})
	assert.ErrorIs(t, err, errdefs.ErrIntegrityViolation)

	_, err = e.Vote(ctx, 99, user.ID, "good", nil, time.Time{})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.QualityVotes)
}
