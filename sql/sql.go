// Package sql provides pooldb connections backed by database/sql drivers.
// Import it for its side effects:
//
//	import _ "github.com/acronis/perfkit/pooldb/sql"
//
// Registered schemes: sqlite, mysql, postgres, postgresql, mssql,
// sqlserver, clickhouse and cql.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gocraft/dbr/v2"
	"github.com/jmoiron/sqlx"

	"github.com/acronis/perfkit/pooldb"
	"github.com/acronis/perfkit/pooldb/logger"
)

var errTxStarted = errors.New("sql: transaction already started")

type dialect interface {
	name() pooldb.DialectName
	quoteIdentifier(name string) string
	supportTransactions() bool
	canRollback(err error) bool
	rowsAffected(res sql.Result) (int64, error)
	lastInsertID(ctx context.Context, q sqlx.QueryerContext, res sql.Result) (int64, error)
	tablesQuery(schema string) (string, []interface{})
	columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]column, error)
	dbrDialect() dbr.Dialect
	close() error
}

// handle is one physical link: the underlying *sqlx.DB never opens more
// than one connection so that session state (transactions, lastval, temp
// tables) stays on it
type handle struct {
	uri     string
	db      *sqlx.DB
	tx      *sqlx.Tx
	txOpen  bool
	dialect dialect
	logger  logger.Logger

	// lastErr is the error of the last statement, used to decide whether
	// a rollback can be sent
	lastErr error
}

func newHandle(uri string, db *sqlx.DB, d dialect, l logger.Logger) *handle {
	if l == nil {
		l = logger.NewNopLogger()
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &handle{uri: uri, db: db, dialect: d, logger: l}
}

func openHandle(ctx context.Context, driverName, dsn string, cfg pooldb.ConnConfig, d dialect) (*handle, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		_ = d.close()
		return nil, fmt.Errorf("sql: cannot connect to %s db at %v, err: %w", d.name(), sanitizeConn(cfg.URI), err)
	}

	h := newHandle(cfg.URI, db, d, cfg.Logger)

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Join(
			fmt.Errorf("sql: failed ping %s db at %v, err: %w", d.name(), sanitizeConn(cfg.URI), err),
			h.Close())
	}

	h.logger.Debug("sql: connected to %s", sanitizeConn(cfg.URI))

	return h, nil
}

func (h *handle) ext() sqlx.ExtContext {
	if h.tx != nil {
		return h.tx
	}
	return h.db
}

var identifierRe = regexp.MustCompile(`\[([A-Za-z_][A-Za-z0-9_ $]*)\]`)

// rewriteIdentifiers turns [name] into the dialect quoting, leaving
// single-quoted literals untouched
func rewriteIdentifiers(query string, quote func(string) string) string {
	if !strings.Contains(query, "[") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query))

	inString := false
	start := 0
	flush := func(end int) {
		segment := query[start:end]
		if inString {
			sb.WriteString(segment)
			return
		}
		sb.WriteString(identifierRe.ReplaceAllStringFunc(segment, func(m string) string {
			return quote(m[1 : len(m)-1])
		}))
	}

	for i := 0; i < len(query); i++ {
		if query[i] != '\'' {
			continue
		}
		if inString {
			flush(i + 1)
			start = i + 1
		} else {
			flush(i)
			start = i
		}
		inString = !inString
	}
	flush(len(query))

	return sb.String()
}

// prepare translates identifiers and placeholders into the driver syntax
func (h *handle) prepare(query string, bind pooldb.Bind) (string, []interface{}, error) {
	q := rewriteIdentifiers(query, h.dialect.quoteIdentifier)

	var args []interface{}
	switch {
	case len(bind.Named) != 0:
		named, namedArgs, err := sqlx.Named(q, map[string]interface{}(bind.Named))
		if err != nil {
			return "", nil, fmt.Errorf("sql: cannot bind parameters: %w", err)
		}
		q, args = named, namedArgs
	case len(bind.Positional) != 0:
		args = bind.Positional
	}

	return h.db.Rebind(q), args, nil
}

func (h *handle) Execute(ctx context.Context, query string, bind pooldb.Bind, wantInsertID bool) (int64, error) {
	q, args, err := h.prepare(query, bind)
	if err != nil {
		return 0, err
	}

	h.logger.Trace("sql: %s", q)

	res, err := h.ext().ExecContext(ctx, q, args...)
	h.lastErr = err
	if err != nil {
		return 0, err
	}

	if wantInsertID {
		return h.dialect.lastInsertID(ctx, h.ext(), res)
	}

	return h.dialect.rowsAffected(res)
}

func (h *handle) Query(ctx context.Context, query string, bind pooldb.Bind) (pooldb.Rows, error) {
	q, args, err := h.prepare(query, bind)
	if err != nil {
		return nil, err
	}

	h.logger.Trace("sql: %s", q)

	rows, err := h.ext().QueryxContext(ctx, q, args...)
	h.lastErr = err
	if err != nil {
		return nil, err
	}

	result, err := readRows(rows)
	h.lastErr = err

	return result, err
}

func readRows(rows *sqlx.Rows) (pooldb.Rows, error) {
	defer rows.Close()

	var result pooldb.Rows
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

func (h *handle) BeginTransaction(ctx context.Context) error {
	if h.txOpen {
		return errTxStarted
	}

	if !h.dialect.supportTransactions() {
		h.logger.Trace("sql: -- BEGIN -- skip because dialect does not support transactions")
		h.txOpen = true
		return nil
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	h.logger.Trace("sql: BEGIN")
	h.tx = tx
	h.txOpen = true
	h.lastErr = nil

	return nil
}

func (h *handle) endTx() *sqlx.Tx {
	tx := h.tx
	h.tx = nil
	h.txOpen = false
	return tx
}

func (h *handle) Commit() error {
	if !h.txOpen {
		return sql.ErrTxDone
	}

	tx := h.endTx()
	if tx == nil {
		return nil
	}

	h.logger.Trace("sql: COMMIT")

	return tx.Commit()
}

func (h *handle) Rollback() error {
	if !h.txOpen {
		return sql.ErrTxDone
	}

	tx := h.endTx()
	if tx == nil {
		return nil
	}

	h.logger.Trace("sql: ROLLBACK")

	err := tx.Rollback()
	if err != nil && !h.dialect.canRollback(h.lastErr) {
		// the server has already aborted the transaction
		h.logger.Debug("sql: rollback after %v: %v", h.lastErr, err)
		return nil
	}

	return err
}

func (h *handle) GetTables(ctx context.Context, schema string) ([]string, error) {
	query, args := h.dialect.tablesQuery(schema)

	rows, err := h.ext().QueryxContext(ctx, h.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (h *handle) GetMetadata(ctx context.Context, source string) (*pooldb.Metadata, error) {
	cols, err := h.dialect.columns(ctx, rebinder{h.ext(), h.db}, source)
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("sql: table %s does not exist or has no columns", source)
	}

	return metadataOf(cols), nil
}

func (h *handle) DialectName() pooldb.DialectName {
	return h.dialect.name()
}

func (h *handle) URI() string {
	return h.uri
}

func (h *handle) Close() error {
	var errs []error

	if tx := h.endTx(); tx != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
	}

	if err := h.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close failed: %w", err))
	}

	if err := h.dialect.close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// rebinder converts ? placeholders of catalog queries for the driver
type rebinder struct {
	q  sqlx.QueryerContext
	db *sqlx.DB
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.db.Rebind(query), args...)
}

func (r rebinder) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return r.q.QueryxContext(ctx, r.db.Rebind(query), args...)
}

func (r rebinder) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return r.q.QueryRowxContext(ctx, r.db.Rebind(query), args...)
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteBracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func sanitizeConn(cs string) string {
	sanitized := cs
	u, _ := url.Parse(cs)
	if u != nil && u.User != nil {
		u.User = nil
		sanitized = u.String()
	}
	return sanitized
}

// dsnOf strips the scheme from a connection URI
func dsnOf(uri string) (string, string, error) {
	const schemeSeparator = "://"

	idx := strings.Index(uri, schemeSeparator)
	if idx <= 0 {
		return "", "", fmt.Errorf("'%s' is missing in %s", schemeSeparator, sanitizeConn(uri))
	}

	return uri[:idx], uri[idx+len(schemeSeparator):], nil
}
