package library

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/datenest/internal/config/library"
	"github.com/mwantia/datenest/pkg/archive"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
)

func testConfig(t *testing.T, username string) *config.BaseConfig {
	t.Helper()

	dir := t.TempDir()
	cfg := config.GetDefault()
	cfg.Library.Root = filepath.Join(dir, "library")
	cfg.Library.Database = filepath.Join(dir, "db", "db.sqlite3")
	cfg.User = config.UserConfig{Username: username, DisplayName: username}
	cfg.Metrics.File = filepath.Join(dir, "datenest.prom")
	cfg.Log.Level = "ERROR"
	return &cfg
}

func openTestLibrary(t *testing.T, cfg *config.BaseConfig) *Library {
	t.Helper()

	logger := log.NewLoggerServiceWithWriter("test", cfg.Log, io.Discard)
	lib, err := OpenWithLogger(context.Background(), cfg, logger)
	require.NoError(t, err)
	return lib
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLibraryWorkflow(t *testing.T) {
	cfg := testConfig(t, "alice")
	lib := openTestLibrary(t, cfg)
	ctx := context.Background()

	writeFile(t, cfg.Library.Root, "run1/plate.png", "plate")
	writeFile(t, cfg.Library.Root, "run1/plate.csv", "t,od\n0,0.1\n")
	writeFile(t, cfg.Library.Root, "run2/other.jpg", "other")

	result, err := lib.Reload(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	plate := result.Entries[0].ImageID

	matches, err := lib.Search(ctx, "has:csv")
	require.NoError(t, err)
	assert.Equal(t, []uint{plate}, matches)

	require.NoError(t, lib.AddTag(ctx, plate, "colony", "result"))
	require.NoError(t, lib.Vote(ctx, plate, "good", nil))

	// Mutations invalidate the index.
	matches, err = lib.Search(ctx, "#colony user:alice label:good")
	require.NoError(t, err)
	assert.Equal(t, []uint{plate}, matches)

	removed, err := lib.RemoveTag(ctx, plate, "colony", "result")
	require.NoError(t, err)
	assert.True(t, removed)

	matches, err = lib.Search(ctx, "#colony")
	require.NoError(t, err)
	assert.Empty(t, matches)

	detail, err := lib.Detail(ctx, plate)
	require.NoError(t, err)
	assert.True(t, detail.Exists)
	assert.EqualValues(t, len("plate"), detail.Size)
	assert.Empty(t, detail.Tags)
	require.Len(t, detail.Votes, 1)
	require.Len(t, detail.CSV, 1)

	preview, err := lib.Preview(detail.CSV[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "od"}, preview.Header)

	names, err := lib.TagNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"colony"}, names)

	_, err = lib.Detail(ctx, 999)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	require.NoError(t, lib.Close(ctx))
	assert.FileExists(t, cfg.Metrics.File)
}

func TestLibraryExportImport(t *testing.T) {
	ctx := context.Background()

	srcCfg := testConfig(t, "alice")
	src := openTestLibrary(t, srcCfg)
	defer src.Close(ctx)

	writeFile(t, srcCfg.Library.Root, "plate.png", "plate")
	result, err := src.Reload(ctx)
	require.NoError(t, err)
	id := result.Entries[0].ImageID
	require.NoError(t, src.AddTag(ctx, id, "colony", ""))

	bundle := filepath.Join(t.TempDir(), "out.zip")
	exported, err := src.Export(ctx, []uint{id}, bundle, archive.Options{IncludeImages: true, IncludeAttachments: true}, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, exported.Images)

	dstCfg := testConfig(t, "bob")
	dst := openTestLibrary(t, dstCfg)
	defer dst.Close(ctx)

	imported, err := dst.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, 1, imported.ImagesCreated)

	matches, err := dst.Search(ctx, "user:alice #colony imported/")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	// The imported copy lives below the root, so a rescan finds the same image.
	rescan, err := dst.Reload(ctx)
	require.NoError(t, err)
	assert.Zero(t, rescan.Inserted)
	assert.Equal(t, 1, rescan.Duplicates)
}

func TestDeleteImage(t *testing.T) {
	cfg := testConfig(t, "alice")
	lib := openTestLibrary(t, cfg)
	ctx := context.Background()
	defer lib.Close(ctx)

	writeFile(t, cfg.Library.Root, "plate.png", "plate")
	result, err := lib.Reload(ctx)
	require.NoError(t, err)

	require.NoError(t, lib.DeleteImage(ctx, result.Entries[0].ImageID))

	matches, err := lib.Search(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestComponentsUseNamedLoggers(t *testing.T) {
	cfg := testConfig(t, "alice")
	cfg.Log.Level = "WARN"

	var buf bytes.Buffer
	lib, err := OpenWithLogger(context.Background(), cfg, log.NewLoggerServiceWithWriter("test", cfg.Log, &buf))
	require.NoError(t, err)
	ctx := context.Background()
	defer lib.Close(ctx)

	writeFile(t, cfg.Library.Root, "run1/plate.png", "plate")
	result, err := lib.Reload(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)

	_, err = lib.Attach(ctx, result.Entries[0].ImageID, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	assert.Contains(t, buf.String(), "[test/ingest] Failed to attach")
}
