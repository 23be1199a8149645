// Package query filters library images with a small token language.
//
// Queries run against an Index, a read model derived from the store. The
// index is never written back and is rebuilt whenever the store changes in
// a way that could alter a filter outcome.
package query

import (
	"context"
	"sort"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
)

// Record is the searchable projection of one image. Set members and the
// path are folded with Fold.
type Record struct {
	ImageID    uint
	RelPath    string
	Tags       map[string]struct{}
	Categories map[string]struct{}
	Users      map[string]struct{}
	Labels     map[string]struct{}
	HasCSV     bool
	CreatedAt  time.Time
}

type Index struct {
	records  map[uint]*Record
	location *time.Location
}

// Fold lower-cases s with full Unicode case folding and composes it to NFC.
func Fold(s string) string {
	return norm.NFC.String(cases.Fold().String(s))
}

// NewIndex returns an empty index. Day boundaries of date filters are
// taken in loc; nil means the local time zone.
func NewIndex(loc *time.Location) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		records:  make(map[uint]*Record),
		location: loc,
	}
}

// Build derives a fresh index from the current state of the store.
func Build(ctx context.Context, s store.LibraryStore, loc *time.Location) (*Index, error) {
	idx := NewIndex(loc)

	images, err := s.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	for _, image := range images {
		idx.AddImage(image.ID, image.RelPath, image.CreatedAt)
	}

	tags, err := s.AllActiveTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		idx.AddTag(tag)
	}

	votes, err := s.AllQualityVotes(ctx)
	if err != nil {
		return nil, err
	}
	for _, vote := range votes {
		idx.AddVote(vote)
	}

	attachments, err := s.ListAllAttachments(ctx, models.AttachmentKindCSV)
	if err != nil {
		return nil, err
	}
	for _, attachment := range attachments {
		if r, ok := idx.records[attachment.ImageID]; ok {
			r.HasCSV = true
		}
	}

	return idx, nil
}

func (idx *Index) AddImage(id uint, relPath string, createdAt time.Time) *Record {
	r := &Record{
		ImageID:    id,
		RelPath:    Fold(relPath),
		Tags:       make(map[string]struct{}),
		Categories: make(map[string]struct{}),
		Users:      make(map[string]struct{}),
		Labels:     make(map[string]struct{}),
		CreatedAt:  createdAt,
	}
	idx.records[id] = r
	return r
}

func (idx *Index) AddTag(tag models.ActiveTag) {
	r, ok := idx.records[tag.ImageID]
	if !ok {
		return
	}
	r.Tags[Fold(tag.Name)] = struct{}{}
	r.Categories[Fold(tag.Category)] = struct{}{}
	r.Users[Fold(tag.Username)] = struct{}{}
}

func (idx *Index) AddVote(vote models.VoteView) {
	if r, ok := idx.records[vote.ImageID]; ok {
		r.Labels[Fold(vote.Label)] = struct{}{}
	}
}

func (idx *Index) Get(id uint) (*Record, bool) {
	r, ok := idx.records[id]
	return r, ok
}

func (idx *Index) Len() int {
	return len(idx.records)
}

func (idx *Index) Location() *time.Location {
	return idx.location
}

// IDs returns every indexed image id in ascending order.
func (idx *Index) IDs() []uint {
	ids := make([]uint, 0, len(idx.records))
	for id := range idx.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
