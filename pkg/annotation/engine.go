// Package annotation applies user tagging and quality votes to images.
//
// The Engine normalises and validates user input and then delegates to the
// store primitives, which own the annotation state machine and the
// annotator cap. Archive import goes through the same Engine so replayed
// records behave exactly like live ones.
package annotation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/errdefs"
	"github.com/mwantia/datenest/pkg/log"
)

type Engine struct {
	store store.LibraryStore
	log   log.LoggerService
}

func NewEngine(s store.LibraryStore, logger log.LoggerService) *Engine {
	return &Engine{
		store: s,
		log:   logger,
	}
}

// Normalize trims surrounding whitespace and converts to NFC so the same
// visible name always maps to the same tag row.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (e *Engine) tagArgs(name, category string) (string, string, error) {
	name = Normalize(name)
	category = strings.ToLower(Normalize(category))

	if name == "" {
		return "", "", fmt.Errorf("%w: tag name is required", errdefs.ErrIntegrityViolation)
	}
	if !models.ValidCategory(category) {
		return "", "", fmt.Errorf("%w: unknown tag category '%s'", errdefs.ErrIntegrityViolation, category)
	}
	return name, category, nil
}

// AddTag makes the (image, tag, user) annotation active. Adding an already
// active annotation is a no-op.
func (e *Engine) AddTag(ctx context.Context, imageID uint, name, category string, userID uint) (*models.Annotation, error) {
	name, category, err := e.tagArgs(name, category)
	if err != nil {
		return nil, err
	}

	annotation, err := e.store.AddTagForUser(ctx, imageID, name, userID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to add tag '%s' to image %d: %w", name, imageID, err)
	}

	e.log.Debug("Tag '%s' (%s) active on image %d for user %d", name, category, imageID, userID)
	return annotation, nil
}

// RemoveTag soft-deletes the annotation and reports whether one was active.
func (e *Engine) RemoveTag(ctx context.Context, imageID uint, name, category string, userID uint) (bool, error) {
	name, category, err := e.tagArgs(name, category)
	if err != nil {
		return false, err
	}

	removed, err := e.store.RemoveTagForUser(ctx, imageID, name, userID, category)
	if err != nil {
		return false, fmt.Errorf("failed to remove tag '%s' from image %d: %w", name, imageID, err)
	}

	if removed {
		e.log.Debug("Tag '%s' (%s) removed from image %d for user %d", name, category, imageID, userID)
	}
	return removed, nil
}

// Vote records the user's current quality label. A zero when means now.
func (e *Engine) Vote(ctx context.Context, imageID, userID uint, label string, score *float64, when time.Time) (*models.QualityVote, error) {
	label = strings.ToLower(Normalize(label))
	if !models.ValidLabel(label) {
		return nil, fmt.Errorf("%w: quality label must be one of %s", errdefs.ErrIntegrityViolation, strings.Join(models.QualityLabels, ", "))
	}

	vote, err := e.store.UpsertQualityVote(ctx, imageID, userID, label, score, when)
	if err != nil {
		return nil, fmt.Errorf("failed to vote on image %d: %w", imageID, err)
	}

	e.log.Debug("Vote '%s' on image %d for user %d", label, imageID, userID)
	return vote, nil
}
