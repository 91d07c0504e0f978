package pooldb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/acronis/perfkit/pooldb/logger"
)

// ConnConfig is what a Connector receives to open one connection
type ConnConfig struct {
	// URI is a single host connection string without pool parameters
	URI string
	// Owner identifies the Database the connection is opened for, connectors
	// keying shared per-database state (in-memory sqlite) on it
	Owner string
	// Logger receives driver side diagnostics, never nil
	Logger logger.Logger
}

// Connector opens connections for one or more URI schemes
type Connector interface {
	Connect(ctx context.Context, cfg ConnConfig) (Connection, error)
	DialectName(scheme string) (DialectName, error)
}

var (
	// registry stores connectors mapped by their scheme names
	registry     = make(map[string]Connector)
	registryLock = sync.Mutex{}
)

// Register registers a connector for a scheme. Driver packages call it
// from init():
//
//	func init() {
//	    if err := pooldb.Register("mysql", &mysqlConnector{}); err != nil {
//	        panic(err)
//	    }
//	}
func Register(scheme string, conn Connector) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if _, ok := registry[scheme]; ok {
		return fmt.Errorf("scheme %s already exists", scheme)
	}

	registry[scheme] = conn

	return nil
}

func lookupConnector(scheme string) (Connector, error) {
	registryLock.Lock()
	conn, ok := registry[scheme]
	registryLock.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}

	return conn, nil
}

// Schemes returns the registered schemes in sorted order
func Schemes() []string {
	registryLock.Lock()
	defer registryLock.Unlock()

	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)

	return schemes
}

// GetDialectName resolves the dialect of a connection string without connecting
func GetDialectName(uri string) (DialectName, error) {
	cfg, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	conn, err := lookupConnector(cfg.Scheme)
	if err != nil {
		return "", err
	}

	return conn.DialectName(cfg.Scheme)
}
