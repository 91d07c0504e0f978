// Package pgmbed runs an embedded PostgreSQL server for connection strings
// carrying embedded-postgres=true. Servers are shared per port and stopped
// when the last connection using them terminates.
package pgmbed

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/acronis/perfkit/pooldb/logger"
)

const (
	paramEnabled        = "embedded-postgres"
	paramPort           = "ep-port"
	paramDataDir        = "ep-data-dir"
	paramMaxConnections = "ep-max-connections"

	defaultPort           = 5433
	defaultMaxConnections = 512
)

// Opts holds the embedded server options found in a connection string
type Opts struct {
	Enabled        bool
	Port           int
	DataDir        string
	MaxConnections int
}

type instance struct {
	server   *embeddedpostgres.EmbeddedPostgres
	refCount int
}

var (
	instancesMu sync.Mutex
	instances   = make(map[int]*instance)
)

// ParseOptions extracts the embedded server options and returns the
// connection string without them
func ParseOptions(cs string) (string, *Opts, error) {
	parsedURL, err := url.Parse(cs)
	if err != nil {
		return "", nil, fmt.Errorf("pgmbed: invalid connection string: %v", err)
	}

	queryParams := parsedURL.Query()

	opts := &Opts{
		Port:           defaultPort,
		MaxConnections: defaultMaxConnections,
	}

	if enabled, exists := queryParams[paramEnabled]; exists {
		if opts.Enabled, err = strconv.ParseBool(enabled[0]); err != nil {
			return "", nil, fmt.Errorf("pgmbed: invalid value for %s: %v", paramEnabled, err)
		}
		delete(queryParams, paramEnabled)
	}

	if port, exists := queryParams[paramPort]; exists {
		if opts.Port, err = strconv.Atoi(port[0]); err != nil || opts.Port <= 0 || opts.Port > 65535 {
			return "", nil, fmt.Errorf("pgmbed: invalid value for %s: %q", paramPort, port[0])
		}
		delete(queryParams, paramPort)
	}

	if dataDir, exists := queryParams[paramDataDir]; exists {
		opts.DataDir = dataDir[0]
		delete(queryParams, paramDataDir)
	}

	if maxConns, exists := queryParams[paramMaxConnections]; exists {
		if opts.MaxConnections, err = strconv.Atoi(maxConns[0]); err != nil {
			return "", nil, fmt.Errorf("pgmbed: invalid value for %s: %v", paramMaxConnections, err)
		}
		delete(queryParams, paramMaxConnections)
	}

	parsedURL.RawQuery = queryParams.Encode()

	return parsedURL.String(), opts, nil
}

// packConnectionString points cs to the embedded server
func packConnectionString(cs string, opts *Opts) string {
	if cs == "" || opts == nil {
		return cs
	}

	u, err := url.Parse(cs)
	if err != nil {
		return cs
	}

	u.Host = fmt.Sprintf("localhost:%d", opts.Port)
	u.User = url.UserPassword("postgres", "postgres")
	u.Path = "/postgres"

	return u.String()
}

// logWriter forwards the server output line by line
type logWriter struct {
	logger logger.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("embedded postgres: %s", line)
		}
	}

	return len(p), nil
}

func dataDir(dir string, port int, l logger.Logger) (string, error) {
	if dir == "" {
		dir = ".embedded-postgres-go"
		if userHome, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(userHome, dir)
		}
		dir = filepath.Join(dir, "data-"+strconv.Itoa(port))
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		l.Info("pgmbed: creating data dir %s", dir)
		if err = os.MkdirAll(dir, os.ModePerm); err != nil {
			return "", fmt.Errorf("pgmbed: failed to create data directory: %v", err)
		}
	}

	return dir, nil
}

// Launch starts the server for opts.Port unless it already runs and
// returns the connection string pointing to it. Every successful Launch
// must be paired with Terminate(opts.Port).
func Launch(cs string, opts *Opts, l logger.Logger) (string, error) {
	if opts == nil || !opts.Enabled {
		return cs, nil
	}
	if l == nil {
		l = logger.NewNopLogger()
	}

	instancesMu.Lock()
	defer instancesMu.Unlock()

	if inst, ok := instances[opts.Port]; ok {
		inst.refCount++
		return packConnectionString(cs, opts), nil
	}

	dir, err := dataDir(opts.DataDir, opts.Port, l)
	if err != nil {
		return "", err
	}

	server := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Port(uint32(opts.Port)).
		DataPath(dir).
		Logger(logWriter{logger: l}).
		StartParameters(map[string]string{
			"max_connections":  strconv.Itoa(opts.MaxConnections),
			"jit":              "off",
			"random_page_cost": "1.1",
		}))

	l.Info("pgmbed: starting embedded postgres on port %d", opts.Port)

	if err = server.Start(); err != nil {
		if err.Error() != fmt.Sprintf("process already listening on port %d", opts.Port) {
			return "", fmt.Errorf("pgmbed: embedded postgres start error: %v", err)
		}
		// started by another process, not ours to stop
		server = nil
	}

	instances[opts.Port] = &instance{server: server, refCount: 1}

	return packConnectionString(cs, opts), nil
}

// Terminate releases one reference to the server on port and stops it
// when no reference is left
func Terminate(port int) error {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	inst, ok := instances[port]
	if !ok {
		return nil
	}

	inst.refCount--
	if inst.refCount > 0 {
		return nil
	}

	delete(instances, port)
	if inst.server == nil {
		return nil
	}

	if err := inst.server.Stop(); err != nil {
		return fmt.Errorf("pgmbed: embedded postgres stop error: %v", err)
	}

	return nil
}

// running reports the number of references to the server on port
func running(port int) int {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if inst, ok := instances[port]; ok {
		return inst.refCount
	}
	return 0
}
