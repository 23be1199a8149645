package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mwantia/datenest/pkg/db/migrations"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/errdefs"
)

// SQLiteStore implements LibraryStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
	now  func() time.Time
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path     string
	LogLevel logger.LogLevel
	// NowFunc overrides the clock used for annotation timestamps.
	NowFunc func() time.Time
}

// NewSQLiteStore creates a new SQLite-backed library store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() time.Time {
			return time.Now().UTC()
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path)), &gorm.Config{
		Logger:  logger.Default.LogMode(cfg.LogLevel),
		NowFunc: cfg.NowFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
		now:  cfg.NowFunc,
	}, nil
}

// dsn enables foreign keys on every connection so cascades apply.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// classify maps driver constraint failures onto the library error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errdefs.Kind(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", errdefs.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) || errdefs.IsConstraintError(err) {
		return fmt.Errorf("%w: %v", errdefs.ErrIntegrityViolation, err)
	}
	return err
}

func (s *SQLiteStore) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return classify(s.db.WithContext(ctx).Transaction(fn))
}

// User operations

func (s *SQLiteStore) EnsureUser(ctx context.Context, username, displayName string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", errdefs.ErrIntegrityViolation)
	}

	var user models.User
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Where("username = ?", username).First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user = models.User{Username: username, DisplayName: displayName}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("user %d: %w", id, classify(err))
	}
	return &user, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

// Image operations

// UpsertImage inserts the image or, when the digest is already known,
// moves the existing row to relPath and refreshes its timestamp to the
// current file modification time. A zero createdAt keeps the stored one.
// The boolean reports an insert.
func (s *SQLiteStore) UpsertImage(ctx context.Context, relPath, sha256 string, createdAt time.Time) (*models.Image, bool, error) {
	var image models.Image
	created := false

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Where("sha256 = ?", sha256).First(&image).Error
		if err == nil {
			updates := map[string]any{}
			if image.RelPath != relPath {
				updates["rel_path"] = relPath
				image.RelPath = relPath
			}
			if !createdAt.IsZero() && !image.CreatedAt.Equal(createdAt) {
				updates["created_at"] = createdAt
				image.CreatedAt = createdAt
			}
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&image).Updates(updates).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if createdAt.IsZero() {
			createdAt = s.now()
		}
		image = models.Image{RelPath: relPath, SHA256: sha256, CreatedAt: createdAt}
		created = true
		return tx.Create(&image).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &image, created, nil
}

func (s *SQLiteStore) GetImage(ctx context.Context, id uint) (*models.Image, error) {
	var image models.Image
	if err := s.db.WithContext(ctx).First(&image, id).Error; err != nil {
		return nil, fmt.Errorf("image %d: %w", id, classify(err))
	}
	return &image, nil
}

func (s *SQLiteStore) GetImageByDigest(ctx context.Context, sha256 string) (*models.Image, error) {
	var image models.Image
	if err := s.db.WithContext(ctx).Where("sha256 = ?", sha256).First(&image).Error; err != nil {
		return nil, fmt.Errorf("image %s: %w", sha256, classify(err))
	}
	return &image, nil
}

func (s *SQLiteStore) ListImages(ctx context.Context) ([]models.Image, error) {
	var images []models.Image
	err := s.db.WithContext(ctx).Order("rel_path").Find(&images).Error
	return images, err
}

// DeleteImage removes the image; attachments, annotations and votes follow
// through ON DELETE CASCADE.
func (s *SQLiteStore) DeleteImage(ctx context.Context, id uint) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Delete(&models.Image{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: image %d", errdefs.ErrNotFound, id)
		}
		return nil
	})
}

// Tag operations

func (s *SQLiteStore) UpsertTag(ctx context.Context, name, category, description string) (*models.Tag, error) {
	var tag *models.Tag
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		tag, err = upsertTag(tx, name, category, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func upsertTag(tx *gorm.DB, name, category, description string) (*models.Tag, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", errdefs.ErrIntegrityViolation)
	}

	var tag models.Tag
	err := tx.Where("name = ? AND category = ?", name, category).First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tag = models.Tag{Name: name, Category: category, Description: description}
	if err := tx.Create(&tag).Error; err != nil {
		return nil, err
	}
	return &tag, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	err := s.db.WithContext(ctx).Order("category, name").Find(&tags).Error
	return tags, err
}

func (s *SQLiteStore) TagNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.Tag{}).Distinct("name").Order("name").Pluck("name", &names).Error
	return names, err
}

// Attachment operations

// UpsertAttachment links a new attachment to imageID. An already known
// digest returns the existing row unchanged, even if it belongs to another
// image. The boolean reports an insert.
func (s *SQLiteStore) UpsertAttachment(ctx context.Context, imageID uint, kind, relPath, sha256 string, createdAt time.Time) (*models.Attachment, bool, error) {
	var attachment models.Attachment
	created := false

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		err := tx.Where("sha256 = ?", sha256).First(&attachment).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var count int64
		if err := tx.Model(&models.Image{}).Where("id = ?", imageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: attachment references missing image %d", errdefs.ErrIntegrityViolation, imageID)
		}

		if createdAt.IsZero() {
			createdAt = s.now()
		}
		attachment = models.Attachment{
			ImageID:   imageID,
			Kind:      kind,
			RelPath:   relPath,
			SHA256:    sha256,
			CreatedAt: createdAt,
		}
		created = true
		return tx.Create(&attachment).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &attachment, created, nil
}

func (s *SQLiteStore) GetAttachmentByDigest(ctx context.Context, sha256 string) (*models.Attachment, error) {
	var attachment models.Attachment
	if err := s.db.WithContext(ctx).Where("sha256 = ?", sha256).First(&attachment).Error; err != nil {
		return nil, fmt.Errorf("attachment %s: %w", sha256, classify(err))
	}
	return &attachment, nil
}

// ListAttachments returns the attachments of one image; an empty kind
// matches every kind.
func (s *SQLiteStore) ListAttachments(ctx context.Context, imageID uint, kind string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	query := s.db.WithContext(ctx).Where("image_id = ?", imageID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Order("rel_path").Find(&attachments).Error
	return attachments, err
}

func (s *SQLiteStore) ListAllAttachments(ctx context.Context, kind string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	query := s.db.WithContext(ctx)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Order("image_id, rel_path").Find(&attachments).Error
	return attachments, err
}

// Annotation operations

// AddTagForUser creates or reactivates the (image, tag, user) annotation.
// A user that holds no active annotation on the image becomes a new
// annotator and is subject to models.MaxAnnotators.
//
// The cap is also checked when reactivating a removed row. A check on
// insert alone would let a user whose tags were all removed come back as
// a sixth simultaneous annotator once five others have joined, so
// reactivation can fail with errdefs.ErrCapacityExceeded here.
func (s *SQLiteStore) AddTagForUser(ctx context.Context, imageID uint, tagName string, userID uint, category string) (*models.Annotation, error) {
	var annotation models.Annotation

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &models.Image{}, imageID, "image"); err != nil {
			return err
		}
		if err := requireRow(tx, &models.User{}, userID, "user"); err != nil {
			return err
		}

		tag, err := upsertTag(tx, tagName, category, "")
		if err != nil {
			return err
		}

		err = tx.Where("image_id = ? AND tag_id = ? AND user_id = ?", imageID, tag.ID, userID).First(&annotation).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if exists && annotation.Active() {
			return nil
		}

		if err := checkAnnotatorCap(tx, imageID, userID); err != nil {
			return err
		}

		now := s.now()
		if exists {
			annotation.State = models.StateActive
			annotation.CreatedAt = now
			return tx.Model(&annotation).Updates(map[string]any{
				"is_deleted": models.StateActive,
				"created_at": now,
			}).Error
		}

		annotation = models.Annotation{
			ImageID:   imageID,
			TagID:     tag.ID,
			UserID:    userID,
			State:     models.StateActive,
			CreatedAt: now,
		}
		return tx.Omit(clause.Associations).Create(&annotation).Error
	})
	if err != nil {
		return nil, err
	}
	return &annotation, nil
}

func checkAnnotatorCap(tx *gorm.DB, imageID, userID uint) error {
	var own int64
	err := tx.Model(&models.Annotation{}).
		Where("image_id = ? AND user_id = ? AND is_deleted = ?", imageID, userID, models.StateActive).
		Count(&own).Error
	if err != nil {
		return err
	}
	if own > 0 {
		return nil
	}

	var annotators int64
	err = tx.Model(&models.Annotation{}).
		Where("image_id = ? AND is_deleted = ?", imageID, models.StateActive).
		Distinct("user_id").
		Count(&annotators).Error
	if err != nil {
		return err
	}
	if annotators >= models.MaxAnnotators {
		return fmt.Errorf("%w: image %d already has %d annotators", errdefs.ErrCapacityExceeded, imageID, annotators)
	}
	return nil
}

func requireRow(tx *gorm.DB, model any, id uint, what string) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %d", errdefs.ErrNotFound, what, id)
	}
	return nil
}

// RemoveTagForUser soft-deletes the matching active annotation. It reports
// whether a row changed state; an unknown tag or annotation is a no-op.
func (s *SQLiteStore) RemoveTagForUser(ctx context.Context, imageID uint, tagName string, userID uint, category string) (bool, error) {
	removed := false

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var tag models.Tag
		err := tx.Where("name = ? AND category = ?", tagName, category).First(&tag).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.Annotation{}).
			Where("image_id = ? AND tag_id = ? AND user_id = ? AND is_deleted = ?", imageID, tag.ID, userID, models.StateActive).
			Updates(map[string]any{
				"is_deleted": models.StateDeleted,
				"created_at": s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return nil
	})
	return removed, err
}

func (s *SQLiteStore) GetAnnotation(ctx context.Context, imageID, tagID, userID uint) (*models.Annotation, error) {
	var annotation models.Annotation
	err := s.db.WithContext(ctx).
		Where("image_id = ? AND tag_id = ? AND user_id = ?", imageID, tagID, userID).
		First(&annotation).Error
	if err != nil {
		return nil, fmt.Errorf("annotation: %w", classify(err))
	}
	return &annotation, nil
}

func (s *SQLiteStore) activeTagsQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("annotations AS a").
		Select("a.image_id, t.name, t.category, u.username, a.created_at").
		Joins("JOIN tags t ON t.id = a.tag_id").
		Joins("JOIN users u ON u.id = a.user_id").
		Where("a.is_deleted = ?", models.StateActive)
}

// ActiveTags lists the active annotations of an image ordered by category and name.
func (s *SQLiteStore) ActiveTags(ctx context.Context, imageID uint) ([]models.ActiveTag, error) {
	var tags []models.ActiveTag
	err := s.activeTagsQuery(ctx).
		Where("a.image_id = ?", imageID).
		Order("t.category, t.name, u.username").
		Scan(&tags).Error
	return tags, err
}

func (s *SQLiteStore) AllActiveTags(ctx context.Context) ([]models.ActiveTag, error) {
	var tags []models.ActiveTag
	err := s.activeTagsQuery(ctx).
		Order("a.image_id, t.category, t.name, u.username").
		Scan(&tags).Error
	return tags, err
}

// Quality vote operations

// UpsertQualityVote replaces the (image, user) vote with the given label,
// score and time. A zero when means now.
func (s *SQLiteStore) UpsertQualityVote(ctx context.Context, imageID, userID uint, label string, score *float64, when time.Time) (*models.QualityVote, error) {
	if !models.ValidLabel(label) {
		return nil, fmt.Errorf("%w: unknown quality label '%s'", errdefs.ErrIntegrityViolation, label)
	}
	if when.IsZero() {
		when = s.now()
	}

	var vote models.QualityVote
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := requireRow(tx, &models.Image{}, imageID, "image"); err != nil {
			return err
		}
		if err := requireRow(tx, &models.User{}, userID, "user"); err != nil {
			return err
		}

		vote = models.QualityVote{
			ImageID:   imageID,
			UserID:    userID,
			Label:     label,
			Score:     score,
			CreatedAt: when,
		}
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "image_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"label", "score", "created_at"}),
		}).Create(&vote).Error
		if err != nil {
			return err
		}

		vote = models.QualityVote{}
		return tx.Where("image_id = ? AND user_id = ?", imageID, userID).First(&vote).Error
	})
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (s *SQLiteStore) votesQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("quality_votes AS q").
		Select("q.image_id, q.label, q.score, u.username, q.created_at").
		Joins("JOIN users u ON u.id = q.user_id")
}

// QualityVotes lists the votes of an image, newest first.
func (s *SQLiteStore) QualityVotes(ctx context.Context, imageID uint) ([]models.VoteView, error) {
	var votes []models.VoteView
	err := s.votesQuery(ctx).
		Where("q.image_id = ?", imageID).
		Order("q.created_at DESC, u.username").
		Scan(&votes).Error
	return votes, err
}

func (s *SQLiteStore) AllQualityVotes(ctx context.Context) ([]models.VoteView, error) {
	var votes []models.VoteView
	err := s.votesQuery(ctx).
		Order("q.image_id, q.created_at DESC").
		Scan(&votes).Error
	return votes, err
}

// Statistics

func (s *SQLiteStore) Counts(ctx context.Context) (*models.Counts, error) {
	counts := &models.Counts{}
	db := s.db.WithContext(ctx)

	steps := []struct {
		model any
		where string
		dst   *int64
	}{
		{&models.User{}, "", &counts.Users},
		{&models.Image{}, "", &counts.Images},
		{&models.Tag{}, "", &counts.Tags},
		{&models.Attachment{}, "", &counts.Attachments},
		{&models.Annotation{}, "", &counts.Annotations},
		{&models.Annotation{}, "is_deleted = 0", &counts.ActiveAnnotations},
		{&models.QualityVote{}, "", &counts.QualityVotes},
	}
	for _, step := range steps {
		query := db.Model(step.model)
		if step.where != "" {
			query = query.Where(step.where)
		}
		if err := query.Count(step.dst).Error; err != nil {
			return nil, err
		}
	}
	return counts, nil
}

var _ LibraryStore = (*SQLiteStore)(nil)
