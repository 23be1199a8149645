package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/mwantia/datenest/pkg/annotation"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/ingest"
	"github.com/mwantia/datenest/pkg/log"
	"github.com/mwantia/datenest/pkg/metrics"
)

const (
	// Library subdirectories receiving extracted bytes.
	ImportedImagesDir      = "imported"
	ImportedAttachmentsDir = "attachments_imported"

	maxManifestSize = 64 << 20
)

type ImportResult struct {
	ImagesCreated      int
	ImagesReused       int
	AttachmentsCreated int
	AttachmentsReused  int
	Annotations        int
	Votes              int
	Skipped            int
}

// Importer merges bundles by replaying their records through the same
// store and annotation operations that live use goes through, which makes
// importing a bundle twice a no-op.
type Importer struct {
	store   store.LibraryStore
	engine  *annotation.Engine
	root    string
	log     log.LoggerService
	metrics *metrics.Collector
}

func NewImporter(s store.LibraryStore, engine *annotation.Engine, root string, logger log.LoggerService, m *metrics.Collector) *Importer {
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Importer{
		store:   s,
		engine:  engine,
		root:    root,
		log:     logger,
		metrics: m,
	}
}

// ImportFile opens the bundle at path and imports it.
func (i *Importer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	result, err := i.Import(ctx, f, info.Size())
	if err != nil {
		return nil, err
	}

	i.log.Info("Imported '%s': %d new images, %d reused, %d new attachments, %d skipped",
		path, result.ImagesCreated, result.ImagesReused, result.AttachmentsCreated, result.Skipped)
	return result, nil
}

// Import validates the manifest before touching the library. After that,
// records that cannot be applied are logged and skipped.
func (i *Importer) Import(ctx context.Context, r io.ReaderAt, size int64) (*ImportResult, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrMalformedArchive, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	members := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
		members[f.Name] = true
	}

	mf, ok := files[ManifestName]
	if !ok {
		return nil, fmt.Errorf("%w: %s is missing", errdefs.ErrMalformedArchive, ManifestName)
	}
	data, err := readMember(mf, maxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrMalformedArchive, err)
	}

	m, err := DecodeManifest(data, members)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	users := make(map[string]uint)

	for _, u := range m.Users {
		if _, err := i.user(ctx, users, u.Username, u.DisplayName); err != nil {
			return result, err
		}
	}

	for _, t := range m.Tags {
		name := annotation.Normalize(t.Name)
		if name == "" || !models.ValidCategory(t.Category) {
			i.log.Warn("Skipping tag '%s' (%s): invalid name or category", t.Name, t.Category)
			result.Skipped++
			continue
		}
		if _, err := i.store.UpsertTag(ctx, name, t.Category, t.Description); err != nil {
			return result, err
		}
	}

	for _, record := range m.Images {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		i.importImage(ctx, record, files, users, result)
	}

	i.metrics.ArchiveRecords.WithLabelValues("import").Add(float64(len(m.Images)))
	return result, nil
}

func readMember(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

func (i *Importer) user(ctx context.Context, cache map[string]uint, username, displayName string) (uint, error) {
	if id, ok := cache[username]; ok {
		return id, nil
	}
	user, err := i.store.EnsureUser(ctx, username, displayName)
	if err != nil {
		return 0, err
	}
	cache[username] = user.ID
	return user.ID, nil
}

func (i *Importer) skip(result *ImportResult, format string, args ...any) {
	i.log.Warn(format, args...)
	i.metrics.Failure(metrics.StageImport)
	result.Skipped++
}

func (i *Importer) importImage(ctx context.Context, record ImageRecord, files map[string]*zip.File, users map[string]uint, result *ImportResult) {
	image, err := i.store.GetImageByDigest(ctx, record.SHA256)
	switch {
	case err == nil:
		result.ImagesReused++

	case errors.Is(err, errdefs.ErrNotFound):
		member, ok := files[record.Member()]
		if !ok {
			i.skip(result, "Skipping image %s: not in library and not bundled", record.SHA256)
			return
		}

		rel := ImportedImagesDir + "/" + record.SHA256 + SafeExt(record.RelPath)
		createdAt := parseTime(record.CreatedAt)
		if err := i.extract(member, rel, record.SHA256, createdAt); err != nil {
			i.skip(result, "Skipping image %s: %v", record.SHA256, err)
			return
		}

		var created bool
		image, created, err = i.store.UpsertImage(ctx, rel, record.SHA256, createdAt)
		if err != nil {
			i.skip(result, "Skipping image %s: %v", record.SHA256, err)
			return
		}
		if created {
			result.ImagesCreated++
		}

	default:
		i.skip(result, "Skipping image %s: %v", record.SHA256, err)
		return
	}

	for _, att := range record.Attachments {
		i.importAttachment(ctx, image, att, files, result)
	}

	for _, an := range record.Annotations {
		userID, err := i.user(ctx, users, an.Username, "")
		if err == nil {
			_, err = i.engine.AddTag(ctx, image.ID, an.Tag, an.Category, userID)
		}
		if err != nil {
			i.skip(result, "Skipping annotation '%s' by '%s' on %s: %v", an.Tag, an.Username, record.SHA256, err)
			continue
		}
		result.Annotations++
	}

	for _, q := range record.Quality {
		userID, err := i.user(ctx, users, q.Username, "")
		if err == nil {
			_, err = i.engine.Vote(ctx, image.ID, userID, q.Label, q.Score, parseTime(q.CreatedAt))
		}
		if err != nil {
			i.skip(result, "Skipping vote '%s' by '%s' on %s: %v", q.Label, q.Username, record.SHA256, err)
			continue
		}
		result.Votes++
	}
}

func (i *Importer) importAttachment(ctx context.Context, image *models.Image, att AttachmentRecord, files map[string]*zip.File, result *ImportResult) {
	_, err := i.store.GetAttachmentByDigest(ctx, att.SHA256)
	if err == nil {
		result.AttachmentsReused++
		return
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		i.skip(result, "Skipping attachment %s: %v", att.SHA256, err)
		return
	}

	member, ok := files[att.Member()]
	if !ok {
		i.skip(result, "Skipping attachment %s: not in library and not bundled", att.SHA256)
		return
	}

	rel := ImportedAttachmentsDir + "/" + att.SHA256 + att.Ext
	if err := i.extract(member, rel, att.SHA256, member.Modified.UTC()); err != nil {
		i.skip(result, "Skipping attachment %s: %v", att.SHA256, err)
		return
	}

	kind := att.Kind
	if kind == "" {
		kind = models.AttachmentKindCSV
	}

	_, created, err := i.store.UpsertAttachment(ctx, image.ID, kind, rel, att.SHA256, member.Modified.UTC())
	if err != nil {
		i.skip(result, "Skipping attachment %s: %v", att.SHA256, err)
		return
	}
	if created {
		result.AttachmentsCreated++
	}
}

// extract copies a member below the library root and checks that the bytes
// still hash to the digest the manifest claims. A non-zero modTime is set
// on the written file so later scans keep the recorded date.
func (i *Importer) extract(member *zip.File, rel, want string, modTime time.Time) error {
	rc, err := member.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer rc.Close()

	dst := filepath.Join(i.root, filepath.FromSlash(rel))
	if _, err := ingest.WriteFileAtomic(dst, rc, want); err != nil {
		return err
	}
	if modTime.IsZero() {
		return nil
	}
	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	return nil
}
