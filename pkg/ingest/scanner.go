// Package ingest walks the library tree, registers images by digest and
// links CSV measurement files to them.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
	"github.com/mwantia/datenest/pkg/metrics"
)

type Options struct {
	Root            string
	ImageExtensions []string
	ThumbnailDir    string
	Workers         int
}

type Scanner struct {
	store   store.LibraryStore
	log     log.LoggerService
	metrics *metrics.Collector

	root       string
	extensions map[string]bool
	thumbnails string
	workers    int
}

// Entry is one image seen by a scan.
type Entry struct {
	ImageID uint
	RelPath string
	Digest  string
}

// Result counts what a scan or ingest did. Duplicates are images whose
// digest was already registered, including unchanged files on a rescan.
type Result struct {
	Inserted    int
	Duplicates  int
	Attachments int
	Failures    int
	Entries     []Entry
}

type hashed struct {
	abs     string
	rel     string
	digest  string
	modTime time.Time
	err     error
}

func NewScanner(s store.LibraryStore, opts Options, logger log.LoggerService, m *metrics.Collector) *Scanner {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		root = filepath.Clean(opts.Root)
	}

	extensions := make(map[string]bool, len(opts.ImageExtensions))
	for _, ext := range opts.ImageExtensions {
		extensions[strings.ToLower(ext)] = true
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = metrics.NewCollector()
	}

	return &Scanner{
		store:      s,
		log:        logger,
		metrics:    m,
		root:       root,
		extensions: extensions,
		thumbnails: filepath.ToSlash(filepath.Clean(opts.ThumbnailDir)),
		workers:    workers,
	}
}

func (s *Scanner) Root() string {
	return s.root
}

// Abs resolves a library-relative path.
func (s *Scanner) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Rel returns the slash separated, NFC normalised path of abs relative to
// the library root.
func (s *Scanner) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("'%s' is outside of the library root", abs)
	}
	return norm.NFC.String(filepath.ToSlash(rel)), nil
}

func (s *Scanner) isImage(name string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(name))]
}

// Excluded reports whether the directory at abs is skipped by scans: the
// thumbnail cache and hidden directories.
func (s *Scanner) Excluded(abs string) bool {
	if abs == s.root {
		return false
	}
	if strings.HasPrefix(filepath.Base(abs), ".") {
		return true
	}

	rel, err := s.Rel(abs)
	if err != nil {
		return true
	}
	if s.thumbnails == "" || s.thumbnails == "." {
		return false
	}
	return rel == s.thumbnails || strings.HasPrefix(rel, s.thumbnails+"/")
}

// Scan walks the whole library and ingests every image it finds.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer s.metrics.ObserveScan(start)

	paths, err := s.walk()
	if err != nil {
		return nil, err
	}

	s.log.Debug("Found %d image files below '%s'", len(paths), s.root)

	result, err := s.ingest(ctx, paths)
	if err != nil {
		return result, err
	}

	s.log.Info("Scan finished in %s: %d inserted, %d duplicates, %d attachments, %d failures",
		time.Since(start).Round(time.Millisecond), result.Inserted, result.Duplicates, result.Attachments, result.Failures)
	return result, nil
}

func (s *Scanner) walk() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.log.Warn("Skipping '%s': %v", path, err)
			return nil
		}

		if d.IsDir() {
			if s.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() && s.isImage(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to walk '%s': %v", errdefs.ErrIOFailure, s.root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Ingest registers the given image files, which must live below the
// library root. Files are processed in the given order.
func (s *Scanner) Ingest(ctx context.Context, files ...string) (*Result, error) {
	paths := make([]string, 0, len(files))
	result := &Result{}

	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err == nil {
			_, err = s.Rel(abs)
		}
		if err == nil && !s.isImage(abs) {
			err = fmt.Errorf("extension '%s' is not an image extension", filepath.Ext(abs))
		}
		if err != nil {
			s.log.Warn("Skipping '%s': %v", file, err)
			result.Failures++
			s.metrics.Failure(metrics.StageHash)
			continue
		}
		paths = append(paths, abs)
	}

	ingested, err := s.ingest(ctx, paths)
	if ingested != nil {
		ingested.Failures += result.Failures
	}
	return ingested, err
}

func (s *Scanner) ingest(ctx context.Context, paths []string) (*Result, error) {
	hashes := make([]hashed, len(paths))

	// Hashing dominates, so it runs in parallel; writes stay serial.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hashes[i] = s.hash(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	csvs := newDirCache()

	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if h.err != nil {
			s.log.Warn("Failed to hash '%s': %v", h.abs, h.err)
			result.Failures++
			s.metrics.Failure(metrics.StageHash)
			continue
		}

		image, created, err := s.store.UpsertImage(ctx, h.rel, h.digest, h.modTime)
		if err != nil {
			s.log.Warn("Failed to register '%s': %v", h.rel, err)
			result.Failures++
			s.metrics.Failure(metrics.StageUpsert)
			continue
		}

		if created {
			result.Inserted++
			s.metrics.ImagesInserted.Inc()
		} else {
			result.Duplicates++
			s.metrics.ImagesDuplicate.Inc()
		}
		result.Entries = append(result.Entries, Entry{
			ImageID: image.ID,
			RelPath: image.RelPath,
			Digest:  image.SHA256,
		})

		s.linkAttachments(ctx, image, h, csvs, result)
	}

	return result, nil
}

func (s *Scanner) hash(path string) hashed {
	h := hashed{abs: path}

	rel, err := s.Rel(path)
	if err != nil {
		h.err = err
		return h
	}
	h.rel = rel

	info, err := os.Stat(path)
	if err != nil {
		h.err = fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
		return h
	}
	h.modTime = info.ModTime().UTC()

	h.digest, h.err = digest.File(path)
	if h.err == nil {
		s.metrics.FilesHashed.Inc()
	}
	return h
}

func (s *Scanner) linkAttachments(ctx context.Context, image *models.Image, h hashed, cache *dirCache, result *Result) {
	dir := filepath.Dir(h.abs)
	csvs, err := cache.list(dir)
	if err != nil {
		s.log.Warn("Failed to list '%s': %v", dir, err)
		result.Failures++
		s.metrics.Failure(metrics.StageAttach)
		return
	}

	stem := strings.TrimSuffix(filepath.Base(h.abs), filepath.Ext(h.abs))
	for _, candidate := range MatchCSV(stem, h.modTime, csvs) {
		sum, err := cache.digest(candidate.Path)
		if err == nil {
			s.metrics.FilesHashed.Inc()
		}

		var rel string
		if err == nil {
			rel, err = s.Rel(candidate.Path)
		}

		var created bool
		if err == nil {
			_, created, err = s.store.UpsertAttachment(ctx, image.ID, models.AttachmentKindCSV, rel, sum, candidate.ModTime)
		}

		if err != nil {
			s.log.Warn("Failed to attach '%s' to '%s': %v", candidate.Path, image.RelPath, err)
			result.Failures++
			s.metrics.Failure(metrics.StageAttach)
			continue
		}

		if created {
			result.Attachments++
			s.metrics.AttachmentsLink.Inc()
			s.log.Debug("Linked '%s' to '%s'", rel, image.RelPath)
		}
	}
}
