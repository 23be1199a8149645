package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"

	config "github.com/mwantia/datenest/internal/config/library"
	"github.com/mwantia/datenest/pkg/annotation"
	"github.com/mwantia/datenest/pkg/archive"
	"github.com/mwantia/datenest/pkg/db/models"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/mwantia/datenest/pkg/ingest"
	"github.com/mwantia/datenest/pkg/log"
	"github.com/mwantia/datenest/pkg/metrics"
	"github.com/mwantia/datenest/pkg/query"
)

// Library is the entry point used by the CLI: one open database, one
// library root and the acting user.
type Library struct {
	mutex sync.RWMutex

	cfg      *config.BaseConfig
	sc       *container.ServiceContainer
	log      log.LoggerService
	watchLog log.LoggerService

	store    *store.SQLiteStore
	engine   *annotation.Engine
	scanner  *ingest.Scanner
	exporter *archive.Exporter
	importer *archive.Importer
	metrics  *metrics.Collector

	user  *models.User
	index *query.Index
	dirty bool
}

// OpenDatabase opens the configured database without migrating it.
func OpenDatabase(ctx context.Context, cfg *config.BaseConfig) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Library.Database), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: cfg.Library.Database,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return s, nil
}

// Open migrates the database, makes sure the acting user exists and wires
// all components.
func Open(ctx context.Context, cfg *config.BaseConfig) (*Library, error) {
	return OpenWithLogger(ctx, cfg, log.NewLoggerService("datenest", cfg.Log))
}

func OpenWithLogger(ctx context.Context, cfg *config.BaseConfig, logger log.LoggerService) (*Library, error) {
	if err := os.MkdirAll(cfg.Library.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}

	s, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	lib := &Library{
		cfg:     cfg,
		sc:      container.NewServiceContainer(),
		log:     logger,
		store:   s,
		metrics: metrics.NewCollector(),
		dirty:   true,
	}

	if err := lib.setupServices(ctx); err != nil {
		s.Close()
		return nil, err
	}

	lib.user, err = s.EnsureUser(ctx, cfg.User.Username, cfg.User.DisplayName)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register user '%s': %w", cfg.User.Username, err)
	}

	return lib, nil
}

// components is assembled by the service container from its fabric tags.
type components struct {
	Store store.LibraryStore `fabric:"inject"`

	AnnotationLog log.LoggerService `fabric:"logger:annotation"`
	IngestLog     log.LoggerService `fabric:"logger:ingest"`
	ArchiveLog    log.LoggerService `fabric:"logger:archive"`
	WatchLog      log.LoggerService `fabric:"logger:watch"`
}

func (lib *Library) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	// Logger tags are checked while registering, so the processor goes first.
	lib.sc.AddTagProcessor(log.NewLoggerTagProcessor())

	lib.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](lib.sc,
		container.With[log.LoggerService](),
		container.WithInstance(lib.log)))

	lib.log.Debug("Registering 'LibraryStore'...")
	errs.Add(container.Register[store.SQLiteStore](lib.sc,
		container.With[store.LibraryStore](),
		container.WithInstance(lib.store)))

	errs.Add(container.Register[*components](lib.sc, container.AsSingleton()))

	if err := errs.Errors(); err != nil {
		return err
	}

	c, err := container.Resolve[*components](ctx, lib.sc)
	if err != nil {
		return fmt.Errorf("failed to resolve library components: %w", err)
	}

	lib.watchLog = c.WatchLog
	lib.engine = annotation.NewEngine(c.Store, c.AnnotationLog)
	lib.scanner = ingest.NewScanner(c.Store, ingest.Options{
		Root:            lib.cfg.Library.Root,
		ImageExtensions: lib.cfg.Library.ImageExtensions,
		ThumbnailDir:    lib.cfg.Library.ThumbnailDir,
		Workers:         lib.cfg.Ingest.Workers,
	}, c.IngestLog, lib.metrics)
	lib.exporter = archive.NewExporter(c.Store, lib.scanner.Root(), c.ArchiveLog, lib.metrics)
	lib.importer = archive.NewImporter(c.Store, lib.engine, lib.scanner.Root(), c.ArchiveLog, lib.metrics)

	return nil
}

// Close releases the container services, writes the metrics textfile and
// closes the database.
func (lib *Library) Close(ctx context.Context) error {
	timeout, err := time.ParseDuration(lib.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := lib.sc.Cleanup(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}
	if err := lib.metrics.WriteTextfile(lib.cfg.Metrics.File); err != nil {
		errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
	}
	if err := lib.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (lib *Library) User() *models.User {
	return lib.user
}

func (lib *Library) Store() store.LibraryStore {
	return lib.store
}

func (lib *Library) Metrics() *metrics.Collector {
	return lib.metrics
}

func (lib *Library) Logger() log.LoggerService {
	return lib.log
}

func (lib *Library) Root() string {
	return lib.scanner.Root()
}

// Abs resolves a library-relative path.
func (lib *Library) Abs(relPath string) string {
	return lib.scanner.Abs(relPath)
}
