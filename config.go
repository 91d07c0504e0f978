package pooldb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPoolSize is the number of connections per host when the URI has no pool_size
	DefaultPoolSize = 4
	// DefaultTimeout bounds connection acquisition when the URI has no timeout
	DefaultTimeout = time.Second

	// DefaultGroup holds master connections
	DefaultGroup = "default"
	// SlaveGroup holds read replica connections
	SlaveGroup = "slave"

	schemeSeparator = "://"
)

var (
	timeoutRe  = regexp.MustCompile(`(?:^|[?&])timeout=([\d.]+)`)
	poolSizeRe = regexp.MustCompile(`(?:^|[?&])pool_size=(\d+)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*$`)
)

// PoolConfig is derived once from a connection URI and never changes afterwards
type PoolConfig struct {
	// URI is the connection string as given by the caller
	URI    string
	Scheme string
	// Hosts is the host list, master first
	Hosts []string
	// MasterURI and SlaveURIs are the per host connection strings handed to
	// the connector, without timeout and pool_size
	MasterURI string
	SlaveURIs []string

	PoolSize int
	Timeout  time.Duration
	HasSlave bool
}

// ParseURI parses scheme://[userinfo@]host1[,host2,...][/path][?timeout=F][&pool_size=N]
func ParseURI(uri string) (*PoolConfig, error) {
	return parseURI(uri, DefaultPoolSize, DefaultTimeout)
}

func parseURI(uri string, defaultPoolSize int, defaultTimeout time.Duration) (*PoolConfig, error) {
	idx := strings.Index(uri, schemeSeparator)
	if idx <= 0 {
		return nil, fmt.Errorf("%w: missing scheme in %s", ErrMalformedURI, SanitizeURI(uri))
	}

	scheme := uri[:idx]
	if !schemeRe.MatchString(scheme) {
		return nil, fmt.Errorf("%w: invalid scheme %q", ErrMalformedURI, scheme)
	}

	cfg := &PoolConfig{
		URI:      uri,
		Scheme:   scheme,
		PoolSize: defaultPoolSize,
		Timeout:  defaultTimeout,
	}

	rest := uri[idx+len(schemeSeparator):]
	query := ""
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		query = rest[q:]
	}

	if m := timeoutRe.FindStringSubmatch(query); m != nil {
		seconds, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", ErrMalformedURI, m[1])
		}
		cfg.Timeout = time.Duration(seconds * float64(time.Second))
	}

	if m := poolSizeRe.FindStringSubmatch(query); m != nil {
		size, err := strconv.Atoi(m[1])
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("%w: invalid pool_size %q", ErrMalformedURI, m[1])
		}
		cfg.PoolSize = size
	}

	rest = stripPoolParams(rest)
	prefix := scheme + schemeSeparator
	hostStart, hostEnd := hostSpan(rest)
	hostStr := rest[hostStart:hostEnd]

	if !strings.Contains(hostStr, ",") {
		cfg.Hosts = []string{hostStr}
		cfg.MasterURI = prefix + rest
		return cfg, nil
	}

	hosts := strings.Split(hostStr, ",")
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			return nil, fmt.Errorf("%w: empty host in %s", ErrMalformedURI, SanitizeURI(uri))
		}
	}

	withHost := func(h string) string {
		return prefix + rest[:hostStart] + h + rest[hostEnd:]
	}

	cfg.Hosts = hosts
	cfg.MasterURI = withHost(hosts[0])
	for _, h := range hosts[1:] {
		cfg.SlaveURIs = append(cfg.SlaveURIs, withHost(h))
	}
	cfg.HasSlave = len(cfg.SlaveURIs) != 0

	return cfg, nil
}

// hostSpan locates the host list inside the part after "://": it ends at
// the first '/' or '?' and starts after the last '@' of the authority.
func hostSpan(rest string) (int, int) {
	end := strings.IndexAny(rest, "/?")
	if end < 0 {
		end = len(rest)
	}

	start := strings.LastIndex(rest[:end], "@") + 1
	return start, end
}

func stripPoolParams(rest string) string {
	q := strings.IndexByte(rest, '?')
	if q < 0 {
		return rest
	}

	var kept []string
	for _, kv := range strings.Split(rest[q+1:], "&") {
		key := kv
		if eq := strings.IndexByte(kv, '='); eq >= 0 {
			key = kv[:eq]
		}
		if kv == "" || key == "timeout" || key == "pool_size" {
			continue
		}
		kept = append(kept, kv)
	}

	if len(kept) == 0 {
		return rest[:q]
	}
	return rest[:q+1] + strings.Join(kept, "&")
}

// SanitizeURI drops the userinfo part so that a connection string can be logged
func SanitizeURI(uri string) string {
	idx := strings.Index(uri, schemeSeparator)
	if idx < 0 {
		return uri
	}

	rest := uri[idx+len(schemeSeparator):]
	hostStart, _ := hostSpan(rest)
	if hostStart == 0 {
		return uri
	}

	return uri[:idx+len(schemeSeparator)] + rest[hostStart:]
}
