package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

type dialect struct {
	driver     Driver
	realType   string
	listTables string
	// Takes the table name as its only argument
	listColumns string
}

func dialectFor(driver Driver) dialect {
	if driver == DriverPostgres {
		return dialect{
			driver:   DriverPostgres,
			realType: "DOUBLE PRECISION",
			listTables: `
				SELECT table_name FROM information_schema.tables
				WHERE table_schema = current_schema()`,
			listColumns: `
				SELECT column_name FROM information_schema.columns
				WHERE table_schema = current_schema() AND table_name = ?
				ORDER BY ordinal_position`,
		}
	}
	return dialect{
		driver:   DriverSQLite,
		realType: "REAL",
		listTables: `
			SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
		listColumns: `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
	}
}

func (dl dialect) version(ctx context.Context, db *sqlx.DB) (int, error) {
	var v int
	if dl.driver == DriverPostgres {
		if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return 0, err
		}
		err := db.QueryRowxContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
		return v, err
	}
	err := db.QueryRowxContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func (dl dialect) setVersionSQL(v int) string {
	if dl.driver == DriverPostgres {
		return fmt.Sprintf("INSERT INTO schema_version (version) VALUES (%d);", v)
	}
	return fmt.Sprintf("PRAGMA user_version = %d;", v)
}

// Tables used by the application itself, never forecast tables.
var reservedTables = []string{"log", "fetch_log", "schema_version"}

var tablePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

func checkTableName(table string) error {
	if !tablePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	for _, r := range reservedTables {
		if strings.EqualFold(r, table) {
			return fmt.Errorf("table name %q is reserved", table)
		}
	}
	return nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
