// Command pooldb runs statements through the pooldb facade: ad hoc
// queries, table listing, metadata inspection and SQL emulation.
//
//	pooldb -d sqlite:///tmp/app.db query "SELECT * FROM [users] WHERE [id] > :id" -p id=10
//	pooldb -f databases.yaml -d reports tables
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/acronis/perfkit/pooldb/logger"
	_ "github.com/acronis/perfkit/pooldb/sql" // registers the database/sql connectors
)

const applicationName = "pooldb"

// GlobalOpts are shared by every command
type GlobalOpts struct {
	Verbose   []bool `short:"v" long:"verbose" description:"Show verbose debug information (-v - info, -vv - debug, -vvv - trace)"`
	Config    string `short:"f" long:"config" description:"YAML file with named connection URIs"`
	Database  string `short:"d" long:"database" description:"connection URI or an alias from the config file"`
	LogFormat string `long:"log-format" description:"log output format" choice:"plane" choice:"zerolog" choice:"json" default:"plane"`
	Metrics   bool   `long:"metrics" description:"print collected metrics after the command"`

	out io.Writer
	err io.Writer
}

func (o *GlobalOpts) level(configured string) logger.LogLevel {
	switch len(o.Verbose) {
	case 0:
		if configured != "" {
			if l, err := logger.ParseLevel(configured); err == nil {
				return l
			}
		}
		return logger.LevelWarn
	case 1:
		return logger.LevelInfo
	case 2:
		return logger.LevelDebug
	default:
		return logger.LevelTrace
	}
}

func (o *GlobalOpts) newLogger(configured string) logger.Logger {
	level := o.level(configured)

	switch o.LogFormat {
	case "zerolog":
		return logger.NewZeroConsoleLogger(o.err, level)
	case "json":
		return logger.NewZeroLogger(o.err, level, false)
	default:
		return logger.NewPlaneLoggerTo(o.err, level, false)
	}
}

func newParser(opts *GlobalOpts) *flags.Parser {
	parser := flags.NewNamedParser(applicationName, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS] <command>"

	if _, err := parser.AddGroup("Global options", "", opts); err != nil {
		panic(err)
	}

	for _, c := range []struct {
		name, short, long string
		data              interface{}
	}{
		{"query", "run a SELECT and print the rows", "Runs a statement through FetchAll and prints the result set.", &queryCommand{global: opts}},
		{"exec", "run a statement and print the affected rows", "Runs INSERT, UPDATE, DELETE or DDL statements, optionally in one transaction.", &execCommand{global: opts}},
		{"tables", "list tables", "Lists the tables of a schema, the current one by default.", &tablesCommand{global: opts}},
		{"metadata", "describe a table", "Prints columns, primary key, auto increment key and integer columns of a table.", &metadataCommand{global: opts}},
		{"bench", "run a statement from concurrent sessions", "Runs a statement from -c sessions for a number of loops or seconds and prints the rate.", &benchCommand{global: opts}},
		{"emulate", "inline parameters into SQL", "Renders a statement with its named parameters inlined, without a database.", &emulateCommand{global: opts}},
	} {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}

	return parser
}

func run(args []string, stdout, stderr io.Writer) int {
	opts := &GlobalOpts{out: stdout, err: stderr}
	parser := newParser(opts)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsError *flags.Error
		if errors.As(err, &flagsError) && errors.Is(flagsError.Type, flags.ErrHelp) {
			fmt.Fprintln(stdout, flagsError.Message)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
