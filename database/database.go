package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icodeforyou/pvforecast/schema"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	sqlite "modernc.org/sqlite"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Options struct {
	Driver Driver
	// Database file for sqlite
	Path string
	// Connection string for postgres
	DSN string
}

type Database struct {
	logger  *slog.Logger
	read    *sqlx.DB
	write   *sqlx.DB
	dialect dialect
	path    string

	mu      sync.Mutex
	columns map[string][]series.Field

	// OnSchemaDrift is called after fields were dropped from an append.
	OnSchemaDrift func(w *schema.DriftWarning)
}

const initSQL = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
	PRAGMA automatic_index = true;
	PRAGMA foreign_keys = ON;
	PRAGMA analysis_limit = 1000;
	PRAGMA trusted_schema = OFF;
`

var registerHook sync.Once

/**
 * A new database connection.
 * Inspired by: https://theitsolutions.io/blog/modernc.org-sqlite-with-go
 */
func New(ctx context.Context, opts Options) (*Database, error) {
	var dsn string
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		dsn = opts.Path
		registerHook.Do(func() {
			sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
				_, err := conn.ExecContext(context.Background(), initSQL, nil)
				return err
			})
		})
	case DriverPostgres:
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	read, err := sqlx.Open(string(opts.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("error when opening database (read): %w", err)
	}
	read.SetMaxOpenConns(10) // readers can be concurrent
	read.SetConnMaxIdleTime(time.Minute)

	write, err := sqlx.Open(string(opts.Driver), dsn)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("error when opening database (write): %w", err)
	}
	write.SetMaxOpenConns(1) // only a single writer ever, no concurrency
	write.SetConnMaxIdleTime(time.Minute)

	d := &Database{
		logger:  slog.Default().With(slog.String("module", "database")),
		read:    read,
		write:   write,
		dialect: dialectFor(opts.Driver),
		path:    opts.Path,
		columns: make(map[string][]series.Field),
	}

	if err := d.write.PingContext(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	if err = d.migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return d, nil
}

func (d *Database) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

func (d *Database) Name() string {
	return "database"
}

func (d *Database) Driver() Driver {
	return d.dialect.driver
}

func (d *Database) Close() {
	d.read.Close()
	d.write.Close()
}
