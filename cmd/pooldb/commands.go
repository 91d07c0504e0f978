package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/perfkit/pooldb"
	"github.com/acronis/perfkit/pooldb/logger"
	"github.com/acronis/perfkit/pooldb/metrics"
)

// BindOpts collects -p name=value pairs
type BindOpts struct {
	Params []string `short:"p" long:"param" description:"named parameter as name=value, repeatable; integer values are bound as integers"`
}

func (b *BindOpts) bind() (pooldb.Bind, error) {
	if len(b.Params) == 0 {
		return pooldb.Bind{}, nil
	}

	params := make(pooldb.Params, len(b.Params))
	for _, p := range b.Params {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), ":")
		if !ok || name == "" {
			return pooldb.Bind{}, fmt.Errorf("parameter %q is not in name=value form", p)
		}

		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			params[name] = i
		} else {
			params[name] = value
		}
	}

	return pooldb.Named(params), nil
}

// env is an opened database with its optional metrics registry
type env struct {
	db       *pooldb.Database
	logger   logger.Logger
	registry *prometheus.Registry
	out      io.Writer
}

func (o *GlobalOpts) open() (*env, error) {
	cfg, err := loadConfig(o.Config)
	if err != nil {
		return nil, err
	}

	alias, uri, err := cfg.resolve(o.Database)
	if err != nil {
		return nil, err
	}

	e := &env{
		logger: logger.NewPrefixLogger(o.newLogger(cfg.LogLevel), alias),
		out:    o.out,
	}

	bus := pooldb.NewBus()
	if o.Metrics {
		e.registry = prometheus.NewRegistry()
		collector := metrics.NewCollector(alias, nil)
		collector.Subscribe(bus)
		e.registry.MustRegister(collector)
	}

	if e.db, err = pooldb.Open(uri, pooldb.WithLogger(e.logger), pooldb.WithEvents(bus)); err != nil {
		return nil, err
	}

	if e.registry != nil {
		e.registry.MustRegister(metrics.NewStatsCollector(alias, e.db.Stats()))
	}

	e.logger.Debug("using %s", pooldb.SanitizeURI(uri))

	return e, nil
}

func (e *env) close() error {
	if e.registry != nil {
		if err := printMetrics(e.out, e.registry); err != nil {
			e.logger.Warn("cannot gather metrics: %v", err)
		}
	}

	return e.db.Close()
}

// withEnv runs fn against the database selected by the global options
func (o *GlobalOpts) withEnv(fn func(e *env) error) (err error) {
	e, err := o.open()
	if err != nil {
		return err
	}

	defer func() {
		if cErr := e.close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	return fn(e)
}

func printMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+strconv.Quote(l.GetValue()))
			}
			name := mf.GetName() + "{" + strings.Join(labels, ",") + "}"

			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s count=%d sum=%g\n", name, m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}

	return nil
}

type queryCommand struct {
	global *GlobalOpts
	BindOpts

	Master bool   `long:"master" description:"read from the master even when replicas are configured"`
	Format string `long:"format" description:"output format" choice:"table" choice:"json" default:"table"`

	Args struct {
		SQL string `positional-arg-name:"sql" description:"statement with [identifier] quoting and :name placeholders"`
	} `positional-args:"yes" required:"yes"`
}

func (c *queryCommand) Execute([]string) error {
	bind, err := c.bind()
	if err != nil {
		return err
	}

	return c.global.withEnv(func(e *env) error {
		s := e.db.Session(context.Background())
		defer s.Close()

		rows, err := s.FetchAll(c.Args.SQL, bind, c.Master)
		if err != nil {
			return err
		}

		e.logger.Info("%s", s.LastSQL())

		if c.Format == "json" {
			return writeJSON(e.out, rows)
		}
		return writeTable(e.out, rows)
	})
}

type execCommand struct {
	global *GlobalOpts
	BindOpts

	Tx bool `long:"tx" description:"run every statement in one transaction"`

	Args struct {
		Statements []string `positional-arg-name:"sql" required:"1"`
	} `positional-args:"yes"`
}

func (c *execCommand) Execute([]string) error {
	bind, err := c.bind()
	if err != nil {
		return err
	}

	return c.global.withEnv(func(e *env) error {
		runAll := func(s *pooldb.Session) error {
			for _, stmt := range c.Args.Statements {
				n, err := s.Execute(stmt, bind)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.out, "%d rows affected\n", n)
			}
			return nil
		}

		if c.Tx {
			return e.db.Transact(context.Background(), runAll)
		}

		s := e.db.Session(context.Background())
		defer s.Close()

		return runAll(s)
	})
}

type tablesCommand struct {
	global *GlobalOpts

	Schema string `long:"schema" description:"schema (keyspace, database) to list"`
}

func (c *tablesCommand) Execute([]string) error {
	return c.global.withEnv(func(e *env) error {
		tables, err := e.db.Session(context.Background()).GetTables(c.Schema)
		if err != nil {
			return err
		}

		for _, t := range tables {
			fmt.Fprintln(e.out, t)
		}
		return nil
	})
}

type metadataCommand struct {
	global *GlobalOpts

	Args struct {
		Table string `positional-arg-name:"table"`
	} `positional-args:"yes" required:"yes"`
}

func (c *metadataCommand) Execute([]string) error {
	return c.global.withEnv(func(e *env) error {
		meta, err := e.db.Session(context.Background()).GetMetadata(c.Args.Table)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "columns\t%s\n", strings.Join(meta.Attributes, ", "))
		fmt.Fprintf(w, "primary key\t%s\n", strings.Join(meta.PrimaryKey, ", "))
		fmt.Fprintf(w, "auto increment\t%s\n", meta.AutoIncrementKey)
		fmt.Fprintf(w, "integer columns\t%s\n", strings.Join(meta.IntTypeAttributes, ", "))
		return w.Flush()
	})
}

type emulateCommand struct {
	global *GlobalOpts
	BindOpts

	MaxLen int `long:"max-len" description:"truncate quoted values longer than this, 0 keeps them whole" default:"0"`

	Args struct {
		SQL string `positional-arg-name:"sql"`
	} `positional-args:"yes" required:"yes"`
}

func (c *emulateCommand) Execute([]string) error {
	bind, err := c.bind()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.global.out, pooldb.EmulateSQL(c.Args.SQL, bind, c.MaxLen))
	return err
}

func columnsOf(rows pooldb.Rows) []string {
	seen := map[string]struct{}{}
	var columns []string
	for _, row := range rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

func writeTable(out io.Writer, rows pooldb.Rows) error {
	columns := columnsOf(rows)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			if v := row[col]; v == nil {
				values[i] = "NULL"
			} else {
				values[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "(%d rows)\n", len(rows))
	return err
}

func writeJSON(out io.Writer, rows pooldb.Rows) error {
	if rows == nil {
		rows = pooldb.Rows{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
