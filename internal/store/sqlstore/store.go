package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"           // Postgres driver
	"github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/store"
)

//go:embed migrations
var migrations embed.FS

type SQLStore struct {
	db         *sqlx.DB
	driverName string
	logger     *zap.Logger
}

var _ store.Store = (*SQLStore)(nil)

// New opens the database, verifies the connection and brings the schema up
// to date. driverName is "postgres" or "sqlite3".
func New(driverName, dataSourceName string, logger *zap.Logger) (*SQLStore, error) {
	if driverName != "postgres" && driverName != "sqlite3" {
		return nil, fmt.Errorf("unsupported driver %q", driverName)
	}

	db, err := sqlx.Connect(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" && strings.Contains(dataSourceName, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driverName: driverName, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Store ready", zap.String("driver", driverName))
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	src, err := iofs.New(migrations, "migrations/"+s.driverName)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	var driver database.Driver
	switch s.driverName {
	case "postgres":
		driver, err = migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	default:
		driver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driverName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// translate maps driver errors onto the store's sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// escapeLike escapes the LIKE wildcards of a user supplied search string.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
