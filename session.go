package pooldb

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/acronis/perfkit/pooldb/logger"
)

type statementKind string

const (
	kindQuery   statementKind = "query"
	kindInsert  statementKind = "insert"
	kindUpdate  statementKind = "update"
	kindDelete  statementKind = "delete"
	kindExecute statementKind = "execute"
)

func (k statementKind) events() (EventKind, EventKind) {
	switch k {
	case kindQuery:
		return BeforeQuery, AfterQuery
	case kindInsert:
		return BeforeInsert, AfterInsert
	case kindUpdate:
		return BeforeUpdate, AfterUpdate
	case kindDelete:
		return BeforeDelete, AfterDelete
	default:
		return BeforeExecute, AfterExecute
	}
}

func (k statementKind) channel() string {
	return "db." + string(k)
}

// Session runs operations for one call chain (a request, a task, a
// transaction scope). It is not safe for concurrent use. A session that
// opened a transaction or pinned a connection must be closed.
type Session struct {
	db  *Database
	ctx context.Context
	c   Context
}

// Database returns the facade the session belongs to
func (s *Session) Database() *Database {
	return s.db
}

// Context returns a copy of the execution context
func (s *Session) Context() Context {
	return s.c
}

// SQL returns the last statement submitted
func (s *Session) SQL() string {
	return s.c.SQL
}

// LastSQL is the last statement rendered with its parameters, untruncated
func (s *Session) LastSQL() string {
	return s.EmulatedSQL(0)
}

// Bind returns the parameters of the last statement
func (s *Session) Bind() Bind {
	return s.c.Bind
}

// AffectedRows returns the row count of the last operation, -1 before any
func (s *Session) AffectedRows() int64 {
	return s.c.AffectedRows
}

// EmulatedSQL renders the last statement with its named parameters inlined
func (s *Session) EmulatedSQL(maxLen int) string {
	return EmulateSQL(s.c.SQL, s.c.Bind, maxLen)
}

func (s *Session) fire(ev Event) {
	s.db.events.Fire(s.ctx, ev)
}

func (s *Session) record(level logger.LogLevel, channel string, fields logger.Fields) {
	s.db.logger.Record(level, channel, fields)
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// acquire returns the pinned connection or pops one from group; release
// must be called exactly once and is a no-op for pinned connections
func (s *Session) acquire(group string) (Connection, func(), error) {
	if s.c.Connection != nil {
		return s.c.Connection, func() {}, nil
	}

	conn, err := s.db.pop(s.ctx, group)
	if err != nil {
		s.db.stats.Failures.Inc()
		return nil, nil, err
	}

	return conn, func() { s.db.push(conn, group) }, nil
}

func (s *Session) readGroup(useMaster bool) string {
	if s.db.cfg.HasSlave && !useMaster {
		return SlaveGroup
	}
	return DefaultGroup
}

func (s *Session) failed(kind statementKind, query string, bind Bind, elapsed time.Duration, err error) error {
	s.db.stats.Failures.Inc()
	s.record(logger.LevelError, kind.channel(), logger.Fields{
		"sql":     query,
		"bind":    bind.Values(),
		"elapsed": seconds(elapsed),
		"error":   err.Error(),
	})

	return &QueryError{Kind: string(kind), SQL: query, Bind: bind, Err: err}
}

func (s *Session) execute(kind statementKind, query string, bind Bind) (int64, error) {
	s.c.SQL = query
	s.c.Bind = bind
	s.c.AffectedRows = 0

	before, after := kind.events()
	s.fire(BeforeEvent{Type: before, SQL: query, Bind: bind})

	conn, release, err := s.acquire(DefaultGroup)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	count, err := func() (int64, error) {
		defer release()
		return conn.Execute(s.ctx, query, bind, false)
	}()
	elapsed := time.Since(start)

	s.db.stats.counter(kind).Inc()
	s.db.stats.ExecTime.Add(elapsed.Nanoseconds())

	if err != nil {
		return 0, s.failed(kind, query, bind, elapsed, err)
	}

	s.c.AffectedRows = count

	s.fire(AfterExecEvent{Type: after, SQL: query, Bind: bind, Count: count, Elapsed: elapsed})
	s.record(logger.LevelInfo, kind.channel(), logger.Fields{
		"count":   count,
		"sql":     query,
		"bind":    bind.Values(),
		"elapsed": seconds(elapsed),
	})

	return count, nil
}

// Execute runs a statement that is neither a query nor a plain DML, e.g. DDL
func (s *Session) Execute(sql string, bind Bind) (int64, error) {
	return s.execute(kindExecute, sql, bind)
}

// InsertBySQL runs a hand written INSERT and returns the affected rows
func (s *Session) InsertBySQL(sql string, bind Bind) (int64, error) {
	return s.execute(kindInsert, sql, bind)
}

// UpdateBySQL runs a hand written UPDATE and returns the affected rows
func (s *Session) UpdateBySQL(sql string, bind Bind) (int64, error) {
	return s.execute(kindUpdate, sql, bind)
}

// DeleteBySQL runs a hand written DELETE and returns the affected rows
func (s *Session) DeleteBySQL(sql string, bind Bind) (int64, error) {
	return s.execute(kindDelete, sql, bind)
}

// FetchAll reads the whole result set. Outside of a transaction or pinned
// connection it is served by a replica when the database has any, unless
// useMaster is set.
func (s *Session) FetchAll(sql string, bind Bind, useMaster bool) (Rows, error) {
	s.c.SQL = sql
	s.c.Bind = bind
	s.c.AffectedRows = 0

	s.fire(BeforeEvent{Type: BeforeQuery, SQL: sql, Bind: bind})

	conn, release, err := s.acquire(s.readGroup(useMaster))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := func() (Rows, error) {
		defer release()
		return conn.Query(s.ctx, sql, bind)
	}()
	elapsed := time.Since(start)

	s.db.stats.Queries.Inc()
	s.db.stats.QueryTime.Add(elapsed.Nanoseconds())

	if err != nil {
		return nil, s.failed(kindQuery, sql, bind, elapsed, err)
	}

	s.c.AffectedRows = int64(len(rows))

	s.fire(AfterQueryEvent{SQL: sql, Bind: bind, Count: len(rows), Elapsed: elapsed, Result: rows})
	s.record(logger.LevelDebug, kindQuery.channel(), logger.Fields{
		"count":   len(rows),
		"sql":     sql,
		"bind":    bind.Values(),
		"elapsed": seconds(elapsed),
	})

	return rows, nil
}

// FetchOne returns the first row, or nil when the result set is empty
func (s *Session) FetchOne(sql string, bind Bind, useMaster bool) (Row, error) {
	rows, err := s.FetchAll(sql, bind, useMaster)
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	return rows[0], nil
}

// FetchAllMaster is FetchAll served by the master
func (s *Session) FetchAllMaster(sql string, bind Bind) (Rows, error) {
	return s.FetchAll(sql, bind, true)
}

// FetchOneMaster is FetchOne served by the master
func (s *Session) FetchOneMaster(sql string, bind Bind) (Row, error) {
	return s.FetchOne(sql, bind, true)
}

// Insert writes one record. With fetchInsertID the generated id is returned
// and the affected row count is forced to 1; otherwise the id is 0.
func (s *Session) Insert(table string, record Fields, fetchInsertID bool) (int64, error) {
	if len(record) == 0 {
		return 0, invalidArgument("unable to insert into %s table without data", table)
	}

	columns := make([]string, 0, len(record))
	placeholders := make([]string, 0, len(record))
	for _, f := range record {
		if f.Name == "" {
			return 0, invalidArgument("unnamed value in the record for %s table", table)
		}
		columns = append(columns, "["+f.Name+"]")
		placeholders = append(placeholders, ":"+f.Name)
	}

	sql := "INSERT INTO " + EscapeIdentifier(table) +
		" (" + strings.Join(columns, ",") + ") VALUES (" + strings.Join(placeholders, ",") + ")"
	bind := Named(record.Params())

	s.c.SQL = sql
	s.c.Bind = bind
	s.c.AffectedRows = 0

	s.fire(BeforeEvent{Type: BeforeInsert, SQL: sql, Bind: bind})

	conn, release, err := s.acquire(DefaultGroup)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	result, err := func() (int64, error) {
		defer release()
		return conn.Execute(s.ctx, sql, bind, fetchInsertID)
	}()
	elapsed := time.Since(start)

	s.db.stats.Inserts.Inc()
	s.db.stats.ExecTime.Add(elapsed.Nanoseconds())

	if err != nil {
		return 0, s.failed(kindInsert, sql, bind, elapsed, err)
	}

	var insertID int64
	if fetchInsertID {
		insertID = result
		s.c.AffectedRows = 1
	} else {
		s.c.AffectedRows = result
	}

	s.fire(AfterInsertEvent{SQL: sql, Record: record, InsertID: insertID, Elapsed: elapsed})
	s.record(logger.LevelInfo, kindInsert.channel(), logger.Fields{
		"elapsed":   seconds(elapsed),
		"insert_id": insertID,
		"sql":       sql,
		"bind":      bind.Values(),
	})

	return insertID, nil
}

func fragmentOf(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case Raw:
		return string(x), x != ""
	default:
		return "", false
	}
}

// buildWhere renders conditions into AND-able pieces, adding equality values to params
func buildWhere(conditions Fields, params Params) ([]string, error) {
	wheres := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c.Name != "" {
			wheres = append(wheres, "["+c.Name+"]=:"+c.Name)
			params[c.Name] = c.Value
			continue
		}

		frag, ok := fragmentOf(c.Value)
		if !ok {
			return nil, invalidArgument("raw condition must be a non-empty string, got %v", c.Value)
		}
		if strings.Contains(strings.ToLower(frag), " or ") {
			frag = "(" + frag + ")"
		}
		wheres = append(wheres, frag)
	}

	return wheres, nil
}

// mergeBind adds statement generated params to the caller bind; generated values win
func mergeBind(bind Bind, params Params) (Bind, error) {
	if len(params) == 0 {
		return bind, nil
	}
	if bind.IsPositional() {
		return Bind{}, invalidArgument("positional bind cannot be combined with named fields")
	}

	merged := bind.copyNamed()
	for k, v := range params {
		merged[k] = v
	}

	return Named(merged), nil
}

// Update changes the rows matching conditions. Named entries of fieldValues
// become [field]=:field, unnamed entries are raw SET fragments and
// Assignment values render themselves.
func (s *Session) Update(table string, fieldValues Fields, conditions Fields, bind Bind) (int64, error) {
	if len(fieldValues) == 0 {
		return 0, invalidArgument("unable to update %s table without data", table)
	}
	if len(conditions) == 0 {
		return 0, invalidArgument("unable to update %s table without conditions", table)
	}

	params := Params{}
	wheres, err := buildWhere(conditions, params)
	if err != nil {
		return 0, err
	}

	sets := make([]string, 0, len(fieldValues))
	for _, f := range fieldValues {
		if f.Name == "" {
			frag, ok := fragmentOf(f.Value)
			if !ok {
				return 0, invalidArgument("raw SET fragment must be a non-empty string, got %v", f.Value)
			}
			sets = append(sets, frag)
			continue
		}

		if a, ok := f.Value.(Assignment); ok {
			sets = append(sets, a.SQL(f.Name))
			for k, v := range a.BindParams(f.Name) {
				params[k] = v
			}
			continue
		}

		placeholder := f.Name
		if _, taken := params[placeholder]; taken {
			// the same column is also a condition
			placeholder = f.Name + "_new"
		}
		sets = append(sets, "["+f.Name+"]=:"+placeholder)
		params[placeholder] = f.Value
	}

	merged, err := mergeBind(bind, params)
	if err != nil {
		return 0, err
	}

	sql := "UPDATE " + EscapeIdentifier(table) + " SET " + strings.Join(sets, ",") +
		" WHERE " + strings.Join(wheres, " AND ")

	return s.execute(kindUpdate, sql, merged)
}

// Delete removes the rows matching conditions
func (s *Session) Delete(table string, conditions Fields, bind Bind) (int64, error) {
	if len(conditions) == 0 {
		return 0, invalidArgument("unable to delete from %s table without conditions", table)
	}

	params := Params{}
	wheres, err := buildWhere(conditions, params)
	if err != nil {
		return 0, err
	}

	merged, err := mergeBind(bind, params)
	if err != nil {
		return 0, err
	}

	sql := "DELETE FROM " + EscapeIdentifier(table) + " WHERE " + strings.Join(wheres, " AND ")

	return s.execute(kindDelete, sql, merged)
}

// Upsert updates the row whose primary key equals the one in
// insertFieldValues, or inserts insertFieldValues when there is none.
// primaryKey defaults to the first field of insertFieldValues.
//
// In updateFieldValues unnamed entries (see Column) copy the column value
// from insertFieldValues. A named entry holding a string or Raw is a raw SET
// fragment used verbatim, e.g. Eq("updated", "[updated]=CURRENT_TIMESTAMP");
// Assignment and other values behave as in Update. The primary key itself
// is never updated.
//
// The existence check and the write are separate statements: concurrent
// upserts of the same key can race.
func (s *Session) Upsert(table string, insertFieldValues Fields, updateFieldValues Fields, primaryKey string) (int64, error) {
	if len(insertFieldValues) == 0 {
		return 0, invalidArgument("unable to upsert into %s table without data", table)
	}

	if primaryKey == "" {
		primaryKey = insertFieldValues[0].Name
	}

	pkValue, ok := insertFieldValues.Get(primaryKey)
	if !ok {
		return 0, invalidArgument("primary key %q is missing from the record for %s table", primaryKey, table)
	}

	found, err := s.FetchOne(
		"SELECT 1 AS [found] FROM "+EscapeIdentifier(table)+" WHERE ["+primaryKey+"]=:"+primaryKey,
		Named(Params{primaryKey: pkValue}), true)
	if err != nil {
		return 0, err
	}

	if found == nil {
		if _, err = s.Insert(table, insertFieldValues, false); err != nil {
			return 0, err
		}
		return s.c.AffectedRows, nil
	}

	params := Params{}
	updates := make(Fields, 0, len(updateFieldValues))
	for _, f := range updateFieldValues {
		field := f.Name
		if field == "" {
			name, isName := f.Value.(string)
			if !isName || name == "" {
				return 0, invalidArgument("unnamed upsert entry must be a column name, got %v", f.Value)
			}
			field = name
		}

		if field == primaryKey {
			continue
		}

		if f.Name == "" {
			value, _ := insertFieldValues.Get(field)
			updates = append(updates, Fragment("["+field+"]=:"+field))
			params[field] = value
			continue
		}

		switch f.Value.(type) {
		case string, Raw:
			updates = append(updates, Field{Value: f.Value})
			continue
		}

		updates = append(updates, f)
	}

	if len(updates) == 0 {
		s.c.AffectedRows = 0
		return 0, nil
	}

	return s.Update(table, updates, Fields{Eq(primaryKey, pkValue)}, Named(params))
}

// GetTables lists the tables of schema (the current one when empty)
func (s *Session) GetTables(schema string) ([]string, error) {
	conn, release, err := s.acquire(s.readGroup(false))
	if err != nil {
		return nil, err
	}
	defer release()

	tables, err := conn.GetTables(s.ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("pooldb: cannot list tables: %w", err)
	}

	return tables, nil
}

// GetMetadata describes the columns of source
func (s *Session) GetMetadata(source string) (*Metadata, error) {
	conn, release, err := s.acquire(s.readGroup(false))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	meta, err := func() (*Metadata, error) {
		defer release()
		return conn.GetMetadata(s.ctx, source)
	}()
	elapsed := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("pooldb: cannot read metadata of %s: %w", source, err)
	}

	s.record(logger.LevelDebug, "db.metadata", logger.Fields{
		"elapsed":    seconds(elapsed),
		"source":     source,
		"attributes": meta.Attributes,
		"primary":    meta.PrimaryKey,
	})

	return meta, nil
}

// BuildSQL renders a SELECT in the dialect of the database
func (s *Session) BuildSQL(params *SelectParams) (string, error) {
	if params == nil || params.From == "" {
		return "", invalidArgument("select needs a source table")
	}

	conn, release, err := s.acquire(s.readGroup(false))
	if err != nil {
		return "", err
	}
	defer release()

	return conn.BuildSQL(params)
}

// WithConnection pins one master connection for every call fn makes on the
// session. The connection is returned when fn exits; a transaction left
// open by fn is rolled back.
func (s *Session) WithConnection(fn func(s *Session) error) (err error) {
	if s.c.Connection != nil {
		return fn(s)
	}

	conn, err := s.db.pop(s.ctx, DefaultGroup)
	if err != nil {
		s.db.stats.Failures.Inc()
		return err
	}

	s.c.Connection = conn
	s.c.group = DefaultGroup
	s.c.pinned = true

	defer func() {
		if cErr := s.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	return fn(s)
}
