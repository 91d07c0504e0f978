package sql

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gocraft/dbr/v2"
	dbrdialect "github.com/gocraft/dbr/v2/dialect"
	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/acronis/perfkit/pooldb"
)

func init() {
	for _, scheme := range []string{"sqlite", "sqlite3"} {
		if err := pooldb.Register(scheme, &sqliteConnector{}); err != nil {
			panic(err)
		}
	}
}

type sqliteDialect struct {
	memmode bool
}

func (d *sqliteDialect) name() pooldb.DialectName {
	return pooldb.SQLITE
}

func (d *sqliteDialect) quoteIdentifier(name string) string {
	return quoteBacktick(name)
}

func (d *sqliteDialect) supportTransactions() bool {
	return true
}

func (d *sqliteDialect) canRollback(err error) bool {
	return true
}

func (d *sqliteDialect) rowsAffected(res sql.Result) (int64, error) {
	return res.RowsAffected()
}

func (d *sqliteDialect) lastInsertID(_ context.Context, _ sqlx.QueryerContext, res sql.Result) (int64, error) {
	return res.LastInsertId()
}

func (d *sqliteDialect) tablesQuery(string) (string, []interface{}) {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
}

func (d *sqliteDialect) columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]column, error) {
	return scanColumns(ctx, q, `SELECT name AS column_name, type AS data_type, pk > 0 AS is_pk,
		(pk = 1 AND upper(type) = 'INTEGER') AS is_auto
		FROM pragma_table_info(?) ORDER BY cid`, table)
}

func (d *sqliteDialect) dbrDialect() dbr.Dialect {
	return dbrdialect.SQLite3
}

func (d *sqliteDialect) close() error {
	return nil
}

const sqliteOptions = `PRAGMA page_size = 4096;
	PRAGMA cache_size = -20000;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;`

const sqliteFileOptions = `PRAGMA journal_mode=WAL;
	PRAGMA wal_autocheckpoint = 5000;
	PRAGMA synchronous = NORMAL;`

type sqliteConnector struct{}

// Connect accepts sqlite:///absolute/path.db[?driver options] and sqlite://:memory:
func (c *sqliteConnector) Connect(ctx context.Context, cfg pooldb.ConnConfig) (pooldb.Connection, error) {
	_, path, err := dsnOf(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("sql: cannot parse sqlite db path, err: %w", err)
	}

	if path == "" {
		return nil, fmt.Errorf("sql: empty sqlite file path")
	}

	var dia = sqliteDialect{}
	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		dia.memmode = true
		path = sharedMemoryDSN(path, cfg.Owner)
	} else if file, _, _ := strings.Cut(path, "?"); !filepath.IsAbs(file) {
		return nil, fmt.Errorf("sql: filepath '%v' is not absolute", sanitizeConn(cfg.URI))
	}

	h, err := openHandle(ctx, "sqlite3", path, cfg, &dia)
	if err != nil {
		return nil, err
	}

	options := sqliteOptions
	if !dia.memmode {
		options += "\n" + sqliteFileOptions
	}

	if _, err = h.db.ExecContext(ctx, options); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("sql: failed to set sqlite options, err: %w", err)
	}

	return h, nil
}

// sharedMemoryDSN names the in-memory database after the owning Database so
// every pooled handle of it sees the same schema and data. Without an owner,
// or for an explicit file: URI, the path is kept as given.
func sharedMemoryDSN(path, owner string) string {
	if owner == "" || !strings.HasPrefix(path, ":memory:") {
		return path
	}

	dsn := "file:pooldb-" + owner + "?mode=memory&cache=shared"
	if _, params, ok := strings.Cut(path, "?"); ok && params != "" {
		dsn += "&" + params
	}

	return dsn
}

func (c *sqliteConnector) DialectName(string) (pooldb.DialectName, error) {
	return pooldb.SQLITE, nil
}
