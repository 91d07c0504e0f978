package pooldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/atomic"
)

var errFake = errors.New("fake driver failure")

type fakeStatement struct {
	SQL      string
	Bind     Bind
	InsertID bool
	Query    bool
}

type fakeConn struct {
	uri string

	mu         sync.Mutex
	statements []fakeStatement
	rows       Rows
	execResult int64
	execErr    error
	queryErr   error

	beginErr    error
	commitErr   error
	rollbackErr error

	begins    int
	commits   int
	rollbacks int
	closed    bool
}

func newFakeConn(uri string) *fakeConn {
	return &fakeConn{uri: uri, execResult: 1}
}

func (c *fakeConn) Execute(_ context.Context, sql string, bind Bind, wantInsertID bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statements = append(c.statements, fakeStatement{SQL: sql, Bind: bind, InsertID: wantInsertID})
	if c.execErr != nil {
		return 0, c.execErr
	}
	return c.execResult, nil
}

func (c *fakeConn) Query(_ context.Context, sql string, bind Bind) (Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statements = append(c.statements, fakeStatement{SQL: sql, Bind: bind, Query: true})
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}

func (c *fakeConn) BeginTransaction(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.begins++
	return c.beginErr
}

func (c *fakeConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commits++
	return c.commitErr
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollbacks++
	return c.rollbackErr
}

func (c *fakeConn) GetTables(context.Context, string) ([]string, error) {
	return []string{"users"}, nil
}

func (c *fakeConn) GetMetadata(_ context.Context, source string) (*Metadata, error) {
	if source != "users" {
		return nil, errFake
	}
	return &Metadata{Attributes: []string{"id", "name"}, PrimaryKey: []string{"id"}, AutoIncrementKey: "id", IntTypeAttributes: []string{"id"}}, nil
}

func (c *fakeConn) BuildSQL(params *SelectParams) (string, error) {
	return "SELECT " + strings.Join(params.Fields, ", ") + " FROM " + params.From, nil
}

func (c *fakeConn) DialectName() DialectName { return SQLITE }
func (c *fakeConn) URI() string              { return c.uri }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *fakeConn) last() fakeStatement {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.statements) == 0 {
		return fakeStatement{}
	}
	return c.statements[len(c.statements)-1]
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.statements)
}

type fakeConnector struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup func(c *fakeConn)
}

func (f *fakeConnector) Connect(_ context.Context, cfg ConnConfig) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := newFakeConn(cfg.URI)
	if f.setup != nil {
		f.setup(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) DialectName(string) (DialectName, error) {
	return SQLITE, nil
}

func (f *fakeConnector) created() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeConn(nil), f.conns...)
}

// byHost returns the connections opened for the given host
func (f *fakeConnector) byHost(host string) []*fakeConn {
	var res []*fakeConn
	for _, c := range f.created() {
		if strings.Contains(c.uri, "@"+host+"/") {
			res = append(res, c)
		}
	}
	return res
}

var fakeSchemeSeq = atomic.NewInt64(0)

// registerFake registers a connector under a scheme unique to the caller
func registerFake(t *testing.T) (string, *fakeConnector) {
	t.Helper()

	scheme := fmt.Sprintf("fake%d", fakeSchemeSeq.Inc())
	connector := &fakeConnector{}
	if err := Register(scheme, connector); err != nil {
		t.Fatalf("cannot register %s: %v", scheme, err)
	}

	return scheme, connector
}
