package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/datenest/internal/config/library"
	"github.com/mwantia/datenest/pkg/annotation"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
)

var (
	fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fileTime = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
)

type library struct {
	root     string
	store    *store.SQLiteStore
	engine   *annotation.Engine
	exporter *Exporter
	importer *Importer
}

func newLibrary(t *testing.T) *library {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(root, 0o755))

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:    filepath.Join(dir, "db.sqlite3"),
		NowFunc: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	logger := log.NewLoggerServiceWithWriter("test", config.LogConfig{Level: "ERROR"}, io.Discard)
	engine := annotation.NewEngine(s, logger)

	return &library{
		root:     root,
		store:    s,
		engine:   engine,
		exporter: NewExporter(s, root, logger, nil),
		importer: NewImporter(s, engine, root, logger, nil),
	}
}

func (l *library) file(t *testing.T, rel, content string) (string, string) {
	t.Helper()

	path := filepath.Join(l.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, fileTime, fileTime))

	sum, err := digest.File(path)
	require.NoError(t, err)
	return rel, sum
}

// populate creates two annotated images, one of them with a CSV attachment.
func (l *library) populate(t *testing.T) []uint {
	t.Helper()
	ctx := context.Background()

	alice, err := l.store.EnsureUser(ctx, "alice", "Alice")
	require.NoError(t, err)
	bob, err := l.store.EnsureUser(ctx, "bob", "")
	require.NoError(t, err)

	rel, sum := l.file(t, "plates/p1.png", "image-one")
	p1, _, err := l.store.UpsertImage(ctx, rel, sum, fileTime)
	require.NoError(t, err)

	rel, sum = l.file(t, "plates/p1.csv", "a,b\n1,2\n")
	_, _, err = l.store.UpsertAttachment(ctx, p1.ID, models.AttachmentKindCSV, rel, sum, fileTime)
	require.NoError(t, err)

	rel, sum = l.file(t, "plates/p2.png", "image-two")
	p2, _, err := l.store.UpsertImage(ctx, rel, sum, fileTime)
	require.NoError(t, err)

	_, err = l.engine.AddTag(ctx, p1.ID, "colony", "condition", alice.ID)
	require.NoError(t, err)
	_, err = l.engine.AddTag(ctx, p2.ID, "contaminated", "", bob.ID)
	require.NoError(t, err)

	score := 0.75
	_, err = l.engine.Vote(ctx, p1.ID, alice.ID, models.LabelGood, &score, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	return []uint{p1.ID, p2.ID}
}

func exportOptions() ExportOptions {
	return ExportOptions{
		Options:     Options{IncludeImages: true, IncludeAttachments: true},
		Username:    "alice",
		DisplayName: "Alice",
		ToolVersion: "test",
		ExportedAt:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestManifestGolden(t *testing.T) {
	l := newLibrary(t)
	ids := l.populate(t)

	m, err := l.exporter.Manifest(context.Background(), ids, exportOptions())
	require.NoError(t, err)

	data, err := EncodeManifest(m)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "manifest", data)
}

func exportBundle(t *testing.T, l *library, ids []uint) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.zip")
	result, err := l.exporter.ExportFile(context.Background(), ids, path, exportOptions())
	require.NoError(t, err)
	distinct := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		distinct[id] = struct{}{}
	}
	assert.Equal(t, len(distinct), result.Images)
	assert.Positive(t, result.Bytes)
	return path
}

func TestExportBundleLayout(t *testing.T) {
	l := newLibrary(t)
	ids := l.populate(t)

	// Selecting an image twice stores its bytes once.
	path := exportBundle(t, l, append(ids, ids[0]))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{
		"images/8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129.png",
		"images/fc7cd44b6c707639e0da36968e1d93e616ac8ca8ef7f43991d8eac98085514d7.png",
		"attachments/492d5ea496056f1a6a6592241032fab764c321596317930b4fa0e1e8bc3b7470.csv",
		ManifestName,
	}, names)
	assert.Equal(t, ManifestName, names[len(names)-1])
}

func TestRoundTripIsIdempotent(t *testing.T) {
	src := newLibrary(t)
	path := exportBundle(t, src, src.populate(t))

	dst := newLibrary(t)
	ctx := context.Background()

	first, err := dst.importer.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ImagesCreated)
	assert.Equal(t, 1, first.AttachmentsCreated)
	assert.Zero(t, first.Skipped)

	want, err := src.store.Counts(ctx)
	require.NoError(t, err)
	got, err := dst.store.Counts(ctx)
	require.NoError(t, err)

	assert.Equal(t, want.Images, got.Images)
	assert.Equal(t, want.Attachments, got.Attachments)
	assert.Equal(t, want.ActiveAnnotations, got.ActiveAnnotations)
	assert.Equal(t, want.QualityVotes, got.QualityVotes)
	assert.Equal(t, want.Users, got.Users)
	assert.Equal(t, want.Tags, got.Tags)

	second, err := dst.importer.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, second.ImagesCreated)
	assert.Equal(t, 2, second.ImagesReused)
	assert.Equal(t, 1, second.AttachmentsReused)

	again, err := dst.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	image, err := dst.store.GetImageByDigest(ctx, "8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129")
	require.NoError(t, err)
	assert.Equal(t, "imported/8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129.png", image.RelPath)
	assert.True(t, image.CreatedAt.Equal(fileTime))

	data, err := os.ReadFile(filepath.Join(dst.root, "imported", filepath.Base(image.RelPath)))
	require.NoError(t, err)
	assert.Equal(t, "image-one", string(data))

	// Rescans read the date from the file, so extraction restores it.
	info, err := os.Stat(filepath.Join(dst.root, filepath.FromSlash(image.RelPath)))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(fileTime), "got %s", info.ModTime())

	votes, err := dst.store.QualityVotes(ctx, image.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "alice", votes[0].Username)
	require.NotNil(t, votes[0].Score)
	assert.InDelta(t, 0.75, *votes[0].Score, 1e-9)

	attachments, err := dst.store.ListAttachments(ctx, image.ID, models.AttachmentKindCSV)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "attachments_imported/492d5ea496056f1a6a6592241032fab764c321596317930b4fa0e1e8bc3b7470.csv", attachments[0].RelPath)
}

func TestImportIntoSourceLibraryReusesEverything(t *testing.T) {
	l := newLibrary(t)
	path := exportBundle(t, l, l.populate(t))
	ctx := context.Background()

	before, err := l.store.Counts(ctx)
	require.NoError(t, err)

	result, err := l.importer.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ImagesReused)

	after, err := l.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Existing images keep their library path.
	image, err := l.store.GetImageByDigest(ctx, "8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129")
	require.NoError(t, err)
	assert.Equal(t, "plates/p1.png", image.RelPath)
	assert.NoDirExists(t, filepath.Join(l.root, ImportedImagesDir))
}

func TestExportSkipsMissingFiles(t *testing.T) {
	l := newLibrary(t)
	ids := l.populate(t)
	require.NoError(t, os.Remove(filepath.Join(l.root, "plates", "p2.png")))

	var buf bytes.Buffer
	result, err := l.exporter.Export(context.Background(), ids, &buf, exportOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Images)
	assert.Equal(t, 1, result.Skipped)
}

func TestExportUnknownImage(t *testing.T) {
	l := newLibrary(t)

	var buf bytes.Buffer
	_, err := l.exporter.Export(context.Background(), []uint{42}, &buf, exportOptions())
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestExportWithoutPayload(t *testing.T) {
	src := newLibrary(t)
	ids := src.populate(t)

	opts := exportOptions()
	opts.Options = Options{}

	var buf bytes.Buffer
	_, err := src.exporter.Export(context.Background(), ids, &buf, opts)
	require.NoError(t, err)

	// Without bundled bytes, unknown images cannot be imported.
	dst := newLibrary(t)
	result, err := dst.importer.Import(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Zero(t, result.ImagesCreated)
	assert.Equal(t, 2, result.Skipped)

	counts, err := dst.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Images)
	assert.EqualValues(t, 2, counts.Tags)
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestImportRejectsMalformedArchives(t *testing.T) {
	sha := "8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129"

	tests := []struct {
		name    string
		archive []byte
	}{
		{"not a zip", []byte("definitely not a zip")},
		{"missing manifest", buildZip(t, map[string]string{"images/x.png": "x"})},
		{"invalid json", buildZip(t, map[string]string{ManifestName: "{"})},
		{"wrong version", buildZip(t, map[string]string{ManifestName: `{"version": 2}`})},
		{"invalid digest", buildZip(t, map[string]string{
			ManifestName: `{"version": 1, "users": [{"username": "eve"}], "images": [{"sha256": "abc", "rel_path": "x.png"}]}`,
		})},
		{"missing member", buildZip(t, map[string]string{
			ManifestName: `{"version": 1, "options": {"include_images": true}, "users": [{"username": "eve"}],
				"images": [{"sha256": "` + sha + `", "rel_path": "x.png"}]}`,
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLibrary(t)
			ctx := context.Background()

			_, err := l.importer.Import(ctx, bytes.NewReader(tt.archive), int64(len(tt.archive)))
			assert.ErrorIs(t, err, errdefs.ErrMalformedArchive)

			counts, err := l.store.Counts(ctx)
			require.NoError(t, err)
			assert.Zero(t, counts.Users, "nothing may be written for a malformed archive")
		})
	}
}

func TestImportSkipsCorruptMember(t *testing.T) {
	sha := "8f81413241884229c9135da4ae01c0753131bf403587455763d667ee025cb129"
	archive := buildZip(t, map[string]string{
		ManifestName: `{"version": 1, "options": {"include_images": true}, "users": [{"username": "eve"}],
			"images": [{"sha256": "` + sha + `", "rel_path": "x.png",
				"annotations": [{"username": "eve", "tag": "colony", "category": ""}]}]}`,
		"images/" + sha + ".png": "tampered",
	})

	l := newLibrary(t)
	ctx := context.Background()

	result, err := l.importer.Import(ctx, bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	counts, err := l.store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Images)
	assert.Zero(t, counts.Annotations)
	assert.EqualValues(t, 1, counts.Users)
	assert.NoFileExists(t, filepath.Join(l.root, ImportedImagesDir, sha+".png"))
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".png", SafeExt("a/b/Plate.PNG"))
	assert.Equal(t, ".bin", SafeExt("noext"))
	assert.Equal(t, ".bin", SafeExt("weird.p n g"))
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("2025-06-01T12:00:00Z").Equal(fixedNow))
	assert.False(t, parseTime("2025-06-01T12:00:00").IsZero())
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("soon").IsZero())
}
