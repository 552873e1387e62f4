package route

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

const (
	DefaultPort     = 5432
	DefaultSchema   = "public"
	DefaultDatabase = "postgres"
	DefaultSSLMode  = "disable"
)

// Endpoint is everything needed to open a PostgreSQL session.
type Endpoint struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	IAMAuth  bool
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.port()))
}

func (e Endpoint) port() int {
	if e.Port == 0 {
		return DefaultPort
	}
	return e.Port
}

// DSN builds a lib/pq connection URL.
func (e Endpoint) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.User, e.Password),
		Host:   e.Address(),
		Path:   "/" + e.database(),
	}
	q := url.Values{}
	sslMode := e.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode
	}
	q.Set("sslmode", sslMode)
	q.Set("application_name", "pgroute")
	u.RawQuery = q.Encode()
	return u.String()
}

func (e Endpoint) database() string {
	if e.Database == "" {
		return DefaultDatabase
	}
	return e.Database
}

// Normalized returns the endpoint with defaults applied so linked servers see concrete values.
func (e Endpoint) Normalized() Endpoint {
	e.Port = e.port()
	e.Database = e.database()
	return e
}

// Redacted is safe to log.
func (e Endpoint) Redacted() string {
	return fmt.Sprintf("%s@%s/%s", e.User, e.Address(), e.database())
}

// Tunnel describes an SSH bastion in front of a database.
type Tunnel struct {
	Host        string
	Port        int
	User        string
	PrivateKey  []byte
	Fingerprint string
}

// Database is one resolved source or target.
type Database struct {
	Name     string
	Schema   string
	Endpoint Endpoint
	Tunnel   *Tunnel
	// Link is the endpoint a linked server uses to reach this database. It differs
	// from Endpoint when the client reaches the database through a tunnel.
	Link *Endpoint
}

// LinkEndpoint returns the endpoint other servers should use for this database.
func (d Database) LinkEndpoint() Endpoint {
	if d.Link != nil {
		return d.Link.Normalized()
	}
	return d.Endpoint.Normalized()
}

// SchemaName defaults to public.
func (d Database) SchemaName() string {
	if d.Schema == "" {
		return DefaultSchema
	}
	return d.Schema
}

// Entry routes an ordered list of tables into one target.
type Entry struct {
	Target Database
	Tables []string
}

// Plan is the immutable routing map for one run.
type Plan struct {
	Source  Database
	Entries []Entry
}

// JobCount is the number of (target, table) pairs in the plan.
func (p Plan) JobCount() int {
	n := 0
	for _, e := range p.Entries {
		n += len(e.Tables)
	}
	return n
}

// Filter narrows the plan to the named targets and tables. Empty filters keep everything.
// Entries left without tables are dropped.
func (p Plan) Filter(targets, tables []string) Plan {
	keepTarget := toSet(targets)
	keepTable := toSet(tables)

	out := Plan{Source: p.Source}
	for _, e := range p.Entries {
		if len(keepTarget) > 0 && !keepTarget[e.Target.Name] {
			continue
		}
		var kept []string
		for _, t := range e.Tables {
			if len(keepTable) == 0 || keepTable[t] {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out.Entries = append(out.Entries, Entry{Target: e.Target, Tables: kept})
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
