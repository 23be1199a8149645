// Package archive exports a selection of images into a portable zip bundle
// and merges such bundles back into a library.
//
// A bundle holds manifest.json plus the raw bytes of every referenced image
// and attachment, stored once per digest under images/<sha256><ext> and
// attachments/<sha256><ext>.
package archive

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
)

const (
	ManifestName    = "manifest.json"
	ManifestVersion = 1

	imagesDir      = "images"
	attachmentsDir = "attachments"
)

type Manifest struct {
	Version    int           `json:"version"`
	ExportedAt string        `json:"exported_at"`
	Exporter   ExporterInfo  `json:"exporter"`
	Options    Options       `json:"options"`
	Users      []UserRecord  `json:"users"`
	Tags       []TagRecord   `json:"tags"`
	Images     []ImageRecord `json:"images"`
}

type ExporterInfo struct {
	Username    string `json:"username"`
	Tool        string `json:"tool"`
	ToolVersion string `json:"tool_version"`
}

type Options struct {
	IncludeImages      bool `json:"include_images"`
	IncludeAttachments bool `json:"include_attachments"`
}

type UserRecord struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type TagRecord struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type ImageRecord struct {
	SHA256      string             `json:"sha256"`
	RelPath     string             `json:"rel_path"`
	CreatedAt   string             `json:"created_at"`
	Attachments []AttachmentRecord `json:"attachments"`
	Annotations []AnnotationRecord `json:"annotations"`
	Quality     []QualityRecord    `json:"quality"`
}

type AttachmentRecord struct {
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
	Ext    string `json:"ext"`
}

type AnnotationRecord struct {
	Username  string `json:"username"`
	Tag       string `json:"tag"`
	Category  string `json:"category"`
	CreatedAt string `json:"created_at"`
}

type QualityRecord struct {
	Username  string   `json:"username"`
	Label     string   `json:"label"`
	Score     *float64 `json:"score"`
	CreatedAt string   `json:"created_at"`
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,16}$`)

// SafeExt returns the lower-cased extension of name, or ".bin" when it is
// missing or not a plain alphanumeric suffix.
func SafeExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if !extPattern.MatchString(ext) {
		return ".bin"
	}
	return ext
}

func (r ImageRecord) Member() string {
	return imagesDir + "/" + r.SHA256 + SafeExt(r.RelPath)
}

func (r AttachmentRecord) Member() string {
	return attachmentsDir + "/" + r.SHA256 + r.Ext
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC 3339 and the naive ISO forms older bundles carry.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// EncodeManifest renders the manifest as indented JSON.
func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeManifest parses and validates a manifest. members lists the names
// present in the bundle.
func DecodeManifest(data []byte, members map[string]bool) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid JSON: %v", errdefs.ErrMalformedArchive, ManifestName, err)
	}
	if err := m.validate(members); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate(members map[string]bool) error {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errdefs.ErrMalformedArchive, fmt.Sprintf(format, args...))
	}

	if m.Version != ManifestVersion {
		return malformed("unsupported manifest version %d", m.Version)
	}

	for _, u := range m.Users {
		if strings.TrimSpace(u.Username) == "" {
			return malformed("user without username")
		}
	}

	for i, img := range m.Images {
		if !digest.Valid(img.SHA256) {
			return malformed("image %d has invalid digest '%s'", i, img.SHA256)
		}
		if m.Options.IncludeImages && !members[img.Member()] {
			return malformed("member '%s' is missing", img.Member())
		}

		for _, att := range img.Attachments {
			if !digest.Valid(att.SHA256) {
				return malformed("attachment of image %s has invalid digest '%s'", img.SHA256, att.SHA256)
			}
			if !extPattern.MatchString(att.Ext) {
				return malformed("attachment %s has invalid extension '%s'", att.SHA256, att.Ext)
			}
			if m.Options.IncludeAttachments && !members[att.Member()] {
				return malformed("member '%s' is missing", att.Member())
			}
		}

		for _, an := range img.Annotations {
			if strings.TrimSpace(an.Username) == "" || strings.TrimSpace(an.Tag) == "" {
				return malformed("annotation of image %s lacks user or tag", img.SHA256)
			}
		}
		for _, q := range img.Quality {
			if strings.TrimSpace(q.Username) == "" {
				return malformed("quality vote of image %s lacks user", img.SHA256)
			}
		}
	}
	return nil
}
