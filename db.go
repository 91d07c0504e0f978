package pooldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/acronis/perfkit/pooldb/logger"
	"github.com/acronis/perfkit/pooldb/pool"
)

// PoolManager is the keyed connection pool a Database draws from. It is
// shared between databases and must be safe for concurrent use;
// *pool.Manager[Connection] implements it.
type PoolManager interface {
	Add(owner string, factory pool.Factory[Connection], size int, group string) error
	AddIdle(owner string, group string, items ...Connection) error
	Pop(ctx context.Context, owner string, timeout time.Duration, group string) (Connection, error)
	Push(owner string, item Connection, group string)
	Remove(owner string) error
}

type options struct {
	logger   logger.Logger
	events   EventSink
	pool     PoolManager
	poolSize int
	timeout  time.Duration
}

// Option configures a Database
type Option func(*options)

// WithLogger sets the logger receiving db.* channel records
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEvents sets the sink receiving before/after and transaction events
func WithEvents(sink EventSink) Option {
	return func(o *options) {
		if sink != nil {
			o.events = sink
		}
	}
}

// WithPoolManager shares a pool manager between databases
func WithPoolManager(pm PoolManager) Option {
	return func(o *options) {
		if pm != nil {
			o.pool = pm
		}
	}
}

// WithPoolSize sets the pool size used when the URI has no pool_size parameter
func WithPoolSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.poolSize = size
		}
	}
}

// WithTimeout sets the acquisition timeout used when the URI has no timeout parameter
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		poolSize: DefaultPoolSize,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}
	if o.events == nil {
		o.events = nopSink{}
	}
	if o.pool == nil {
		o.pool = pool.New[Connection]()
	}

	return o
}

// Database is the facade routing statements to pooled connections. It is
// safe for concurrent use; per call-chain state lives in Session.
type Database struct {
	owner   string
	cfg     PoolConfig
	dialect DialectName

	pool   PoolManager
	logger logger.Logger
	events EventSink
	stats  *Stats

	closed *atomic.Bool
}

// Open parses uri, resolves the connector registered for its scheme and
// registers the master host in the "default" group and every other host
// in the "slave" group. Connections are opened lazily.
func Open(uri string, opts ...Option) (*Database, error) {
	o := buildOptions(opts)

	cfg, err := parseURI(uri, o.poolSize, o.timeout)
	if err != nil {
		return nil, err
	}

	connector, err := lookupConnector(cfg.Scheme)
	if err != nil {
		return nil, err
	}

	dialect, err := connector.DialectName(cfg.Scheme)
	if err != nil {
		return nil, fmt.Errorf("pooldb: cannot resolve dialect of %s: %w", SanitizeURI(uri), err)
	}

	d := newDatabase(*cfg, dialect, o)

	factory := func(hostURI string) pool.Factory[Connection] {
		return func(ctx context.Context) (Connection, error) {
			return connector.Connect(ctx, ConnConfig{URI: hostURI, Owner: d.owner, Logger: d.logger})
		}
	}

	if err = d.pool.Add(d.owner, factory(cfg.MasterURI), cfg.PoolSize, DefaultGroup); err != nil {
		return nil, d.abort(err)
	}

	for _, slaveURI := range cfg.SlaveURIs {
		if err = d.pool.Add(d.owner, factory(slaveURI), cfg.PoolSize, SlaveGroup); err != nil {
			return nil, d.abort(err)
		}
	}

	d.logger.Debug("pooldb: opened %s, pool_size=%d, timeout=%v, slaves=%d",
		SanitizeURI(uri), cfg.PoolSize, cfg.Timeout, len(cfg.SlaveURIs))

	return d, nil
}

// NewWithConnection wraps a single pre-built connection. The pool size is
// fixed to 1 and there is no slave group.
func NewWithConnection(conn Connection, opts ...Option) (*Database, error) {
	if conn == nil {
		return nil, invalidArgument("nil connection")
	}

	o := buildOptions(opts)

	cfg := PoolConfig{
		URI:       conn.URI(),
		MasterURI: conn.URI(),
		PoolSize:  1,
		Timeout:   o.timeout,
	}
	if parsed, err := ParseURI(conn.URI()); err == nil {
		cfg.Scheme = parsed.Scheme
		cfg.Hosts = parsed.Hosts
	}

	d := newDatabase(cfg, conn.DialectName(), o)
	if err := d.pool.AddIdle(d.owner, DefaultGroup, conn); err != nil {
		return nil, d.abort(err)
	}

	return d, nil
}

func newDatabase(cfg PoolConfig, dialect DialectName, o *options) *Database {
	return &Database{
		owner:   uuid.NewString(),
		cfg:     cfg,
		dialect: dialect,
		pool:    o.pool,
		logger:  o.logger,
		events:  o.events,
		stats:   newStats(),
		closed:  atomic.NewBool(false),
	}
}

func (d *Database) abort(cause error) error {
	if err := d.pool.Remove(d.owner); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Session creates the execution context for one call chain
func (d *Database) Session(ctx context.Context) *Session {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Session{db: d, ctx: ctx, c: newContext()}
}

// Transact runs fn inside a transaction: commit when fn returns nil,
// rollback otherwise.
func (d *Database) Transact(ctx context.Context, fn func(s *Session) error) (err error) {
	s := d.Session(ctx)
	defer func() {
		if cErr := s.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = s.Begin(); err != nil {
		return err
	}

	if err = fn(s); err != nil {
		if rErr := s.Rollback(); rErr != nil {
			return fmt.Errorf("during rollback tx with error %v, error occurred %w", err, rErr)
		}
		return err
	}

	return s.Commit()
}

// Close releases the pool groups of the database, closing idle connections.
// Connections still held by sessions are closed when they are returned.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	return d.pool.Remove(d.owner)
}

// Config returns the pool configuration derived at construction
func (d *Database) Config() PoolConfig {
	return d.cfg
}

func (d *Database) DialectName() DialectName {
	return d.dialect
}

// URI returns the connection string the database was built from
func (d *Database) URI() string {
	return d.cfg.URI
}

func (d *Database) HasSlave() bool {
	return d.cfg.HasSlave
}

func (d *Database) Stats() *Stats {
	return d.stats
}

func (d *Database) pop(ctx context.Context, group string) (Connection, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	defer accountTime(d.stats.WaitTime, time.Now())

	conn, err := d.pool.Pop(ctx, d.owner, d.cfg.Timeout, group)
	switch {
	case err == nil:
		return conn, nil
	case errors.Is(err, pool.ErrTimeout):
		d.stats.PoolTimeouts.Inc()
		return nil, fmt.Errorf("%w: no %s connection to %s within %v: %w",
			ErrPoolExhausted, group, SanitizeURI(d.cfg.URI), d.cfg.Timeout, err)
	case errors.Is(err, pool.ErrClosed):
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return nil, fmt.Errorf("pooldb: cannot acquire %s connection to %s: %w", group, SanitizeURI(d.cfg.URI), err)
	}
}

func (d *Database) push(conn Connection, group string) {
	d.pool.Push(d.owner, conn, group)
}
