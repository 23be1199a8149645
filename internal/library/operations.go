package library

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mwantia/datenest/pkg/archive"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/ingest"
	"github.com/mwantia/datenest/pkg/query"
)

// Detail is everything shown for a single image.
type Detail struct {
	Image   models.Image
	Exists  bool
	Size    int64
	ModTime time.Time
	Tags    []models.ActiveTag
	Votes   []models.VoteView
	CSV     []models.Attachment
}

// Reload rescans the library and rebuilds the search index.
func (lib *Library) Reload(ctx context.Context) (*ingest.Result, error) {
	result, err := lib.scanner.Scan(ctx)
	if err != nil {
		return result, err
	}

	lib.mutex.Lock()
	defer lib.mutex.Unlock()

	if err := lib.rebuild(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Ingest registers individual image files below the library root.
func (lib *Library) Ingest(ctx context.Context, files ...string) (*ingest.Result, error) {
	defer lib.invalidate()
	return lib.scanner.Ingest(ctx, files...)
}

func (lib *Library) rebuild(ctx context.Context) error {
	idx, err := query.Build(ctx, lib.store, time.Local)
	if err != nil {
		return fmt.Errorf("failed to build search index: %w", err)
	}

	lib.index = idx
	lib.dirty = false
	lib.metrics.LibraryImages.Set(float64(idx.Len()))
	return nil
}

func (lib *Library) invalidate() {
	lib.mutex.Lock()
	lib.dirty = true
	lib.mutex.Unlock()
}

// Search evaluates a query against the index, rebuilding it first when a
// mutation made it stale.
func (lib *Library) Search(ctx context.Context, text string) ([]uint, error) {
	lib.mutex.RLock()
	if !lib.dirty && lib.index != nil {
		defer lib.mutex.RUnlock()
		return query.Evaluate(text, lib.index), nil
	}
	lib.mutex.RUnlock()

	lib.mutex.Lock()
	defer lib.mutex.Unlock()

	if lib.dirty || lib.index == nil {
		if err := lib.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	return query.Evaluate(text, lib.index), nil
}

func (lib *Library) Detail(ctx context.Context, imageID uint) (*Detail, error) {
	image, err := lib.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	detail := &Detail{Image: *image}
	if info, err := os.Stat(lib.scanner.Abs(image.RelPath)); err == nil {
		detail.Exists = true
		detail.Size = info.Size()
		detail.ModTime = info.ModTime()
	}

	if detail.Tags, err = lib.store.ActiveTags(ctx, imageID); err != nil {
		return nil, err
	}
	if detail.Votes, err = lib.store.QualityVotes(ctx, imageID); err != nil {
		return nil, err
	}
	if detail.CSV, err = lib.store.ListAttachments(ctx, imageID, models.AttachmentKindCSV); err != nil {
		return nil, err
	}
	return detail, nil
}

// Preview reads the head of an attachment stored in the library.
func (lib *Library) Preview(attachment models.Attachment) (*ingest.Preview, error) {
	return ingest.PreviewCSV(lib.scanner.Abs(attachment.RelPath), ingest.PreviewRows)
}

func (lib *Library) TagNames(ctx context.Context) ([]string, error) {
	return lib.store.TagNames(ctx)
}

func (lib *Library) AddTag(ctx context.Context, imageID uint, name, category string) error {
	defer lib.invalidate()
	_, err := lib.engine.AddTag(ctx, imageID, name, category, lib.user.ID)
	return err
}

func (lib *Library) RemoveTag(ctx context.Context, imageID uint, name, category string) (bool, error) {
	defer lib.invalidate()
	return lib.engine.RemoveTag(ctx, imageID, name, category, lib.user.ID)
}

func (lib *Library) Vote(ctx context.Context, imageID uint, label string, score *float64) error {
	defer lib.invalidate()
	_, err := lib.engine.Vote(ctx, imageID, lib.user.ID, label, score, time.Time{})
	return err
}

func (lib *Library) Attach(ctx context.Context, imageID uint, files ...string) ([]models.Attachment, error) {
	defer lib.invalidate()
	return lib.scanner.AttachFiles(ctx, imageID, files...)
}

// DeleteImage removes the image row and everything hanging off it. Files
// on disk are left alone, so the next scan registers the image again.
func (lib *Library) DeleteImage(ctx context.Context, imageID uint) error {
	defer lib.invalidate()
	return lib.store.DeleteImage(ctx, imageID)
}

func (lib *Library) Export(ctx context.Context, imageIDs []uint, dst string, opts archive.Options, toolVersion string) (*archive.ExportResult, error) {
	return lib.exporter.ExportFile(ctx, imageIDs, dst, archive.ExportOptions{
		Options:     opts,
		Username:    lib.user.Username,
		DisplayName: lib.user.DisplayName,
		ToolVersion: toolVersion,
	})
}

func (lib *Library) Import(ctx context.Context, path string) (*archive.ImportResult, error) {
	defer lib.invalidate()
	return lib.importer.ImportFile(ctx, path)
}

// Watch rescans the library whenever file-system changes have settled,
// until ctx is done.
func (lib *Library) Watch(ctx context.Context, onReload func(*ingest.Result)) error {
	debounce, err := time.ParseDuration(lib.cfg.Ingest.Debounce)
	if err != nil || debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := ingest.NewWatcher(lib.scanner, debounce, lib.watchLog)
	if err != nil {
		return err
	}

	lib.log.Info("Watching '%s' for changes", lib.scanner.Root())
	return watcher.Run(ctx, func(ctx context.Context) error {
		result, err := lib.Reload(ctx)
		if err != nil {
			return err
		}
		if onReload != nil {
			onReload(result)
		}
		return lib.metrics.WriteTextfile(lib.cfg.Metrics.File)
	})
}
