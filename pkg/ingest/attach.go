package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/metrics"
)

// AttachFiles links files to an image by hand. Files outside the library
// root are copied next to the image first. Each file succeeds or fails on
// its own; the returned error joins the failures.
func (s *Scanner) AttachFiles(ctx context.Context, imageID uint, files ...string) ([]models.Attachment, error) {
	image, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	var attachments []models.Attachment
	var errs []error

	for _, file := range files {
		attachment, err := s.attach(ctx, image, file)
		if err != nil {
			s.log.Warn("Failed to attach '%s' to '%s': %v", file, image.RelPath, err)
			s.metrics.Failure(metrics.StageAttach)
			errs = append(errs, fmt.Errorf("'%s': %w", file, err))
			continue
		}
		attachments = append(attachments, *attachment)
	}

	return attachments, errors.Join(errs...)
}

func (s *Scanner) attach(ctx context.Context, image *models.Image, file string) (*models.Attachment, error) {
	src, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	sum, err := digest.File(src)
	if err != nil {
		return nil, err
	}
	s.metrics.FilesHashed.Inc()

	// Known bytes are never copied or linked a second time.
	if existing, err := s.store.GetAttachmentByDigest(ctx, sum); err == nil {
		return existing, nil
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	path := src
	if _, err := s.Rel(src); err != nil {
		dir := filepath.Dir(s.Abs(image.RelPath))
		path, err = copyInto(src, dir, sum)
		if err != nil {
			return nil, err
		}
		s.log.Debug("Copied '%s' to '%s'", src, path)
	}

	rel, err := s.Rel(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	attachment, created, err := s.store.UpsertAttachment(ctx, image.ID, AttachmentKind(path), rel, sum, info.ModTime().UTC())
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.AttachmentsLink.Inc()
	}
	return attachment, nil
}

// AttachmentKind derives the kind from the file extension, e.g. "csv".
func AttachmentKind(path string) string {
	kind := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if kind == "" {
		return "file"
	}
	return kind
}

// FreeName returns a path in dir for name that does not exist yet, adding
// " (copy)", " (copy 2)", ... before the extension as needed.
func FreeName(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}

		suffix := " (copy)"
		if i > 1 {
			suffix = fmt.Sprintf(" (copy %d)", i)
		}
		candidate = filepath.Join(dir, stem+suffix+ext)
	}
}

func copyInto(src, dir, sum string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	dst := FreeName(dir, filepath.Base(src))
	if _, err := WriteFileAtomic(dst, in, sum); err != nil {
		return "", err
	}

	// Keep the source modification time like a plain copy would.
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	return dst, nil
}

// WriteFileAtomic streams r into a hidden staging file next to dst and
// renames it into place, so dst never holds partial content. When want is
// set the staged bytes must hash to it. The digest of the written content
// is returned.
func WriteFileAtomic(dst string, r io.Reader, want string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	sum, _, err := digest.Reader(io.TeeReader(r, out))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && want != "" && sum != want {
		err = fmt.Errorf("digest mismatch: expected %s, got %s", want, sum)
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: failed to write '%s': %v", errdefs.ErrIOFailure, dst, err)
	}
	return sum, nil
}
