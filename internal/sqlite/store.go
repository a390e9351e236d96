package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedded embed.FS

const (
	defaultPath = "data/edge.db"
	// Fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store is the local SQLite database. It holds the key/value documents,
// the kitchen tables and the ticket log.
type Store struct {
	path   string
	db     *sql.DB
	logger aqm.Logger

	ready  atomic.Bool
	healMu sync.Mutex
}

func NewStore(config *aqm.Config, logger aqm.Logger) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	path := defaultPath
	if config != nil {
		path = config.GetStringOrDef("db.sqlite.path", defaultPath)
	}
	return &Store{path: path, logger: logger}
}

// Open is NewStore followed by Start, for tools and tests.
func Open(ctx context.Context, path string, logger aqm.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if s.logger == nil {
		s.logger = aqm.NewNoopLogger()
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Start(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." && s.path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create database directory: %w", err)
		}
	}

	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("cannot open SQLite: %w", err)
	}
	// One writer; the kitchen transactions rely on it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("cannot ping SQLite: %w", err)
	}
	s.db = db

	if _, err := s.Migrate(ctx); err != nil {
		s.logger.Errorf("SQLite migrations failed, kitchen store will retry lazily: %v", err)
	}

	s.logger.Infof("Opened SQLite database: %s", s.path)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cannot close SQLite: %w", err)
	}
	s.db = nil
	s.ready.Store(false)
	s.logger.Info("Closed SQLite database")
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) provider() (*goose.Provider, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not open")
	}
	fsys, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
}

// Migrate applies pending migrations and returns the versions applied.
func (s *Store) Migrate(ctx context.Context) ([]int64, error) {
	p, err := s.provider()
	if err != nil {
		return nil, fmt.Errorf("cannot create migration provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot apply migrations: %w", err)
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
		s.logger.Info("migration applied", "version", r.Source.Version, "duration", r.Duration.String())
	}
	s.ready.Store(true)
	return applied, nil
}

// Version reports the current schema version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	p, err := s.provider()
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

// Ready reports whether the schema is in place. When it is not, one
// migration attempt is made per call until it succeeds.
func (s *Store) Ready(ctx context.Context) bool {
	if s.ready.Load() {
		return true
	}
	s.healMu.Lock()
	defer s.healMu.Unlock()
	if s.ready.Load() {
		return true
	}
	if _, err := s.Migrate(ctx); err != nil {
		s.logger.Errorf("kitchen schema not ready: %v", err)
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
