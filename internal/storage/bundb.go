package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"pvfs/internal/util"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	return &BunDB{DB: bun.NewDB(sqlDB, sqlitedialect.New())}
}

// GetSchemaInfo retrieves a schema_info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().Model(&info).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SQLStore keeps attributes in a SQLite side database. It is the store of
// choice when the backing filesystem has no usable user xattrs.
type SQLStore struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
}

var _ XattrStore = (*SQLStore)(nil)

// OpenSQLStore opens or creates the side database at path.
func OpenSQLStore(path string, dbctx DBContext) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite xattr backend needs a database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", BuildDSN(path, dbctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Must be explicit, libsql ignores DSN-based _pragma=value parameters.
	if err := applyPragmas(db, dbctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := execStatements(db, sideDBSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initSideDB, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema info: %w", err)
	}

	s := &SQLStore{path: path, db: db, bunDB: NewBunDB(db)}
	kind, err := s.bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if kind != "eadb" {
		db.Close()
		return nil, fmt.Errorf("%s is not an attribute database (type %q)", path, kind)
	}
	log.Debugf("[STORAGE] Opened side database %s", path)
	return s, nil
}

// DB returns the underlying sql.DB.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Get(t Target, name string) ([]byte, error) {
	ctx := context.Background()
	return util.RetryWithResult(ctx, func() ([]byte, error) {
		var m EAModel
		err := s.bunDB.NewSelect().Model(&m).
			Where("dev = ? AND ino = ? AND name = ?", int64(t.Dev), int64(t.Ino), name).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoAttr
		}
		if err != nil {
			return nil, err
		}
		return m.Value, nil
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *SQLStore) Set(t Target, name string, value []byte) error {
	ctx := context.Background()
	if value == nil {
		value = []byte{}
	}
	return util.Retry(ctx, func() error {
		_, err := s.bunDB.NewInsert().
			Model(&EAModel{Dev: int64(t.Dev), Ino: int64(t.Ino), Name: name, Value: value}).
			On("CONFLICT (dev, ino, name) DO UPDATE").
			Set("value = EXCLUDED.value").
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *SQLStore) Remove(t Target, name string) error {
	ctx := context.Background()
	return util.Retry(ctx, func() error {
		res, err := s.bunDB.NewDelete().Model((*EAModel)(nil)).
			Where("dev = ? AND ino = ? AND name = ?", int64(t.Dev), int64(t.Ino), name).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNoAttr
		}
		return nil
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *SQLStore) List(t Target) ([]string, error) {
	ctx := context.Background()
	return util.RetryWithResult(ctx, func() ([]string, error) {
		var names []string
		err := s.bunDB.NewSelect().Model((*EAModel)(nil)).Column("name").
			Where("dev = ? AND ino = ?", int64(t.Dev), int64(t.Ino)).
			Order("name").
			Scan(ctx, &names)
		return names, err
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *SQLStore) DeleteAll(t Target) error {
	ctx := context.Background()
	return util.Retry(ctx, func() error {
		_, err := s.bunDB.NewDelete().Model((*EAModel)(nil)).
			Where("dev = ? AND ino = ?", int64(t.Dev), int64(t.Ino)).
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
