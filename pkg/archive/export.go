package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
	"github.com/mwantia/datenest/pkg/metrics"
)

const Tool = "datenest"

type ExportOptions struct {
	Options

	// Exporting user, recorded in the manifest.
	Username    string
	DisplayName string
	ToolVersion string

	// ExportedAt defaults to the current time.
	ExportedAt time.Time
}

type ExportResult struct {
	Images      int
	Attachments int
	Skipped     int
	Bytes       int64
}

type Exporter struct {
	store   store.LibraryStore
	root    string
	log     log.LoggerService
	metrics *metrics.Collector
}

// payload is a file to copy into the bundle.
type payload struct {
	member string
	path   string
}

func NewExporter(s store.LibraryStore, root string, logger log.LoggerService, m *metrics.Collector) *Exporter {
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Exporter{
		store:   s,
		root:    root,
		log:     logger,
		metrics: m,
	}
}

func (e *Exporter) abs(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Manifest describes the given images without writing a bundle.
func (e *Exporter) Manifest(ctx context.Context, imageIDs []uint, opts ExportOptions) (*Manifest, error) {
	m, _, _, err := e.collect(ctx, imageIDs, opts)
	return m, err
}

// collect builds the manifest and the payload list. Records whose bytes are
// requested but missing on disk are left out and counted as skipped.
func (e *Exporter) collect(ctx context.Context, imageIDs []uint, opts ExportOptions) (*Manifest, []payload, int, error) {
	exportedAt := opts.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now()
	}

	m := &Manifest{
		Version:    ManifestVersion,
		ExportedAt: formatTime(exportedAt),
		Exporter: ExporterInfo{
			Username:    opts.Username,
			Tool:        Tool,
			ToolVersion: opts.ToolVersion,
		},
		Options: opts.Options,
		Users:   []UserRecord{},
		Tags:    []TagRecord{},
		Images:  []ImageRecord{},
	}

	var files []payload
	seen := make(map[string]bool)
	referenced := make(map[string]bool)
	if opts.Username != "" {
		referenced[opts.Username] = true
	}
	skipped := 0

	for _, id := range dedupe(imageIDs) {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}

		image, err := e.store.GetImage(ctx, id)
		if err != nil {
			return nil, nil, 0, err
		}

		record := ImageRecord{
			SHA256:      image.SHA256,
			RelPath:     image.RelPath,
			CreatedAt:   formatTime(image.CreatedAt),
			Attachments: []AttachmentRecord{},
			Annotations: []AnnotationRecord{},
			Quality:     []QualityRecord{},
		}

		if opts.IncludeImages {
			path := e.abs(image.RelPath)
			if !exists(path) {
				e.log.Warn("Skipping image '%s': file is missing", image.RelPath)
				e.metrics.Failure(metrics.StageExport)
				skipped++
				continue
			}
			if !seen[record.Member()] {
				seen[record.Member()] = true
				files = append(files, payload{member: record.Member(), path: path})
			}
		}

		tags, err := e.store.ActiveTags(ctx, id)
		if err != nil {
			return nil, nil, 0, err
		}
		for _, tag := range tags {
			referenced[tag.Username] = true
			record.Annotations = append(record.Annotations, AnnotationRecord{
				Username:  tag.Username,
				Tag:       tag.Name,
				Category:  tag.Category,
				CreatedAt: formatTime(tag.CreatedAt),
			})
		}

		votes, err := e.store.QualityVotes(ctx, id)
		if err != nil {
			return nil, nil, 0, err
		}
		for _, vote := range votes {
			referenced[vote.Username] = true
			record.Quality = append(record.Quality, QualityRecord{
				Username:  vote.Username,
				Label:     vote.Label,
				Score:     vote.Score,
				CreatedAt: formatTime(vote.CreatedAt),
			})
		}

		if opts.IncludeAttachments {
			attachments, err := e.store.ListAttachments(ctx, id, "")
			if err != nil {
				return nil, nil, 0, err
			}
			for _, att := range attachments {
				ar := AttachmentRecord{Kind: att.Kind, SHA256: att.SHA256, Ext: SafeExt(att.RelPath)}
				path := e.abs(att.RelPath)
				if !exists(path) {
					e.log.Warn("Skipping attachment '%s': file is missing", att.RelPath)
					e.metrics.Failure(metrics.StageExport)
					skipped++
					continue
				}
				if !seen[ar.Member()] {
					seen[ar.Member()] = true
					files = append(files, payload{member: ar.Member(), path: path})
				}
				record.Attachments = append(record.Attachments, ar)
			}
		}

		m.Images = append(m.Images, record)
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	known := make(map[string]models.User, len(users))
	for _, user := range users {
		known[user.Username] = user
	}
	for username := range referenced {
		record := UserRecord{Username: username, DisplayName: known[username].DisplayName}
		if record.DisplayName == "" && username == opts.Username {
			record.DisplayName = opts.DisplayName
		}
		m.Users = append(m.Users, record)
	}
	sort.Slice(m.Users, func(i, j int) bool { return m.Users[i].Username < m.Users[j].Username })

	tags, err := e.store.ListTags(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	for _, tag := range tags {
		m.Tags = append(m.Tags, TagRecord{Name: tag.Name, Category: tag.Category, Description: tag.Description})
	}

	return m, files, skipped, nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Export writes a bundle of the given images to w. Payload members come
// first and the manifest last.
func (e *Exporter) Export(ctx context.Context, imageIDs []uint, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	m, files, skipped, err := e.collect(ctx, imageIDs, opts)
	if err != nil {
		return nil, err
	}

	data, err := EncodeManifest(m)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{Images: len(m.Images), Skipped: skipped}
	zw := zip.NewWriter(w)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(zw, file); err != nil {
			return nil, err
		}
		if strings.HasPrefix(file.member, attachmentsDir+"/") {
			result.Attachments++
		}
	}

	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestName,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	if _, err := mw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	e.metrics.ArchiveRecords.WithLabelValues("export").Add(float64(result.Images))
	return result, nil
}

func addFile(zw *zip.Writer, file payload) error {
	f, err := os.Open(file.path)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	// Images are already compressed.
	method := zip.Deflate
	if strings.HasPrefix(file.member, imagesDir+"/") {
		method = zip.Store
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     file.member,
		Method:   method,
		Modified: info.ModTime(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	if _, err := io.CopyBuffer(w, f, make([]byte, digest.ChunkSize)); err != nil {
		return fmt.Errorf("%w: failed to add '%s': %v", errdefs.ErrIOFailure, file.path, err)
	}
	return nil
}

// ExportFile writes the bundle to a staging file next to dst and renames
// it into place once complete.
func (e *Exporter) ExportFile(ctx context.Context, imageIDs []uint, dst string, opts ExportOptions) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".zip.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	result, err := e.Export(ctx, imageIDs, f, opts)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %v", errdefs.ErrIOFailure, closeErr)
	}
	if err == nil {
		if renameErr := os.Rename(tmp, dst); renameErr != nil {
			err = fmt.Errorf("%w: %v", errdefs.ErrIOFailure, renameErr)
		}
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}

	if info, err := os.Stat(dst); err == nil {
		result.Bytes = info.Size()
	}

	e.log.Info("Exported %d images and %d attachments to '%s' (%d skipped)", result.Images, result.Attachments, dst, result.Skipped)
	return result, nil
}
