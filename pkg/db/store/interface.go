package store

import (
	"context"
	"time"

	"github.com/mwantia/datenest/pkg/db/models"
)

// LibraryStore defines the persisted operations of the library. Every
// mutation commits as one transaction; no transaction spans calls.
type LibraryStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// User operations
	EnsureUser(ctx context.Context, username, displayName string) (*models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Image operations
	UpsertImage(ctx context.Context, relPath, sha256 string, createdAt time.Time) (*models.Image, bool, error)
	GetImage(ctx context.Context, id uint) (*models.Image, error)
	GetImageByDigest(ctx context.Context, sha256 string) (*models.Image, error)
	ListImages(ctx context.Context) ([]models.Image, error)
	DeleteImage(ctx context.Context, id uint) error

	// Tag operations
	UpsertTag(ctx context.Context, name, category, description string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
	TagNames(ctx context.Context) ([]string, error)

	// Attachment operations
	UpsertAttachment(ctx context.Context, imageID uint, kind, relPath, sha256 string, createdAt time.Time) (*models.Attachment, bool, error)
	GetAttachmentByDigest(ctx context.Context, sha256 string) (*models.Attachment, error)
	ListAttachments(ctx context.Context, imageID uint, kind string) ([]models.Attachment, error)
	ListAllAttachments(ctx context.Context, kind string) ([]models.Attachment, error)

	// Annotation operations
	AddTagForUser(ctx context.Context, imageID uint, tagName string, userID uint, category string) (*models.Annotation, error)
	RemoveTagForUser(ctx context.Context, imageID uint, tagName string, userID uint, category string) (bool, error)
	GetAnnotation(ctx context.Context, imageID, tagID, userID uint) (*models.Annotation, error)
	ActiveTags(ctx context.Context, imageID uint) ([]models.ActiveTag, error)
	AllActiveTags(ctx context.Context) ([]models.ActiveTag, error)

	// Quality vote operations
	UpsertQualityVote(ctx context.Context, imageID, userID uint, label string, score *float64, when time.Time) (*models.QualityVote, error)
	QualityVotes(ctx context.Context, imageID uint) ([]models.VoteView, error)
	AllQualityVotes(ctx context.Context) ([]models.VoteView, error)

	// Statistics
	Counts(ctx context.Context) (*models.Counts, error)
}
