package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/datenest/internal/config/library"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/log"
	"github.com/mwantia/datenest/pkg/metrics"
	"github.com/mwantia/datenest/pkg/query"
)

type fixture struct {
	root    string
	store   *store.SQLiteStore
	scanner *Scanner
	metrics *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(root, 0o755))

	s, err := store.NewSQLiteStore(store.SQLiteConfig{Path: filepath.Join(dir, "db.sqlite3")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	logger := log.NewLoggerServiceWithWriter("test", config.LogConfig{Level: "ERROR"}, io.Discard)
	m := metrics.NewCollector()

	return &fixture{
		root:  root,
		store: s,
		scanner: NewScanner(s, Options{
			Root:            root,
			ImageExtensions: []string{".png", ".jpg"},
			ThumbnailDir:    ".thumbnails",
			Workers:         2,
		}, logger, m),
		metrics: m,
	}
}

func (f *fixture) write(t *testing.T, rel, content string, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !modTime.IsZero() {
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
	return path
}

func TestIngestDeduplicatesByContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.write(t, "a/one.png", "hello", time.Time{})
	b := f.write(t, "b/two.png", "hello", time.Time{})

	first, err := f.scanner.Ingest(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, first.Duplicates)

	second, err := f.scanner.Ingest(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, first.Entries[0].ImageID, second.Entries[0].ImageID)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Images)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImagesInserted))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImagesDuplicate))
}

func TestScanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "plate1.png", "p1", time.Time{})
	f.write(t, "plate1.csv", "a,b\n1,2\n", time.Time{})
	f.write(t, "sub/plate2.jpg", "p2", time.Time{})
	f.write(t, "notes.txt", "ignored", time.Time{})
	f.write(t, ".thumbnails/256/plate1.png", "thumb", time.Time{})
	f.write(t, ".hidden/secret.png", "hidden", time.Time{})

	first, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 1, first.Attachments)
	assert.Zero(t, first.Failures)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, "plate1.png", first.Entries[0].RelPath)
	assert.Equal(t, "sub/plate2.jpg", first.Entries[1].RelPath)

	second, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)
	assert.Zero(t, second.Attachments)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Images)
	assert.EqualValues(t, 1, counts.Attachments)
}

func TestScanFollowsMovedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.write(t, "old/plate.png", "bytes", time.Time{})
	first, err := f.scanner.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "new"), 0o755))
	require.NoError(t, os.Rename(old, filepath.Join(f.root, "new", "plate.png")))

	second, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, first.Entries[0].ImageID, second.Entries[0].ImageID)
	assert.Equal(t, "new/plate.png", second.Entries[0].RelPath)
}

func TestRescanRefreshesModificationTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := f.write(t, "a/x.png", "bytes", before)
	first, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)

	moved := filepath.Join(f.root, "b", "x.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
	require.NoError(t, os.Rename(old, moved))
	require.NoError(t, os.Chtimes(moved, after, after))

	_, err = f.scanner.Scan(ctx)
	require.NoError(t, err)

	image, err := f.store.GetImage(ctx, first.Entries[0].ImageID)
	require.NoError(t, err)
	assert.Equal(t, "b/x.png", image.RelPath)
	assert.True(t, image.CreatedAt.Equal(after), "got %s", image.CreatedAt)

	idx, err := query.Build(ctx, f.store, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []uint{image.ID}, query.Evaluate("date:2025-06-01", idx))
	assert.Empty(t, query.Evaluate("date:2024-01-10", idx))
}

func TestScanChangedContentIsNewImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "plate.png", "v1", time.Time{})
	first, err := f.scanner.Scan(ctx)
	require.NoError(t, err)

	f.write(t, "plate.png", "v2", time.Time{})
	second, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Inserted)
	assert.NotEqual(t, first.Entries[0].ImageID, second.Entries[0].ImageID)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Images)
}

func TestAttachmentHeuristic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "exact/img1.jpg", "img1", time.Time{})
	f.write(t, "exact/img1.csv", "x\n1\n", time.Time{})
	f.write(t, "exact/other.csv", "y\n2\n", time.Time{})

	f.write(t, "none/img2.jpg", "img2", time.Time{})
	f.write(t, "none/alpha.csv", "a\n1\n", time.Time{})
	f.write(t, "none/beta.csv", "b\n2\n", time.Time{})

	result, err := f.scanner.Scan(ctx)
	require.NoError(t, err)

	byPath := map[string]uint{}
	for _, entry := range result.Entries {
		byPath[entry.RelPath] = entry.ImageID
	}

	linked, err := f.store.ListAttachments(ctx, byPath["exact/img1.jpg"], models.AttachmentKindCSV)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "exact/img1.csv", linked[0].RelPath)

	linked, err = f.store.ListAttachments(ctx, byPath["none/img2.jpg"], models.AttachmentKindCSV)
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestAttachmentSingleCSVInDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "run/plate.png", "plate", time.Time{})
	f.write(t, "run/measurements.csv", "a\n1\n", time.Time{})

	result, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attachments)
}

func TestMatchCSV(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	file := func(name string, offset time.Duration) CSVFile {
		return CSVFile{Path: "/lib/" + name, Name: name, ModTime: base.Add(offset)}
	}

	tests := []struct {
		name string
		stem string
		csvs []CSVFile
		want []string
	}{
		{
			name: "exact stem wins over prefix",
			stem: "img1",
			csvs: []CSVFile{file("img1_a.csv", 0), file("img1.csv", time.Hour)},
			want: []string{"img1.csv"},
		},
		{
			name: "single csv in directory",
			stem: "img1",
			csvs: []CSVFile{file("data.csv", 0)},
			want: []string{"data.csv"},
		},
		{
			name: "unrelated csv files",
			stem: "img2",
			csvs: []CSVFile{file("alpha.csv", 0), file("beta.csv", 0)},
			want: nil,
		},
		{
			name: "closest modification time",
			stem: "img3",
			csvs: []CSVFile{file("img3_a.csv", -time.Hour), file("img3_b.csv", time.Minute), file("x.csv", 0)},
			want: []string{"img3_b.csv"},
		},
		{
			name: "equal distance falls back to name order",
			stem: "img4",
			csvs: []CSVFile{file("img4_z.csv", time.Minute), file("img4_a.csv", -time.Minute)},
			want: []string{"img4_a.csv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range MatchCSV(tt.stem, base, tt.csvs) {
				got = append(got, c.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExcluded(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.scanner.Excluded(f.root))
	assert.False(t, f.scanner.Excluded(filepath.Join(f.root, "plates")))
	assert.True(t, f.scanner.Excluded(filepath.Join(f.root, ".thumbnails")))
	assert.True(t, f.scanner.Excluded(filepath.Join(f.root, ".git")))
	assert.True(t, f.scanner.Excluded(filepath.Dir(f.root)))
}
