package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

type Config struct {
	Driver string
	DSN    string
	Path   string
}

// EnsureDir creates the directory holding the sqlite file if missing.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Open opens the configured database. SQLite runs with foreign keys on; MySQL
// connections allow multi-statement migrations.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case "", DialectSQLite:
		return openSQLite(cfg)
	case DialectMySQL:
		return openMySQL(cfg)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openSQLite(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path required")
		}
		if err := EnsureDir(cfg.Path); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	}
	return sql.Open("sqlite", dsn)
}

func openMySQL(cfg Config) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.MultiStatements = true
	conn, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}
	return conn, nil
}
