package link

import (
	"pgroute/internal/route"
	"pgroute/internal/schema"
)

// Side is the connection a Linker's statements run on.
type Side int

const (
	OnTarget Side = iota
	OnSource
)

func (s Side) String() string {
	if s == OnSource {
		return "source"
	}
	return "target"
}

// Server is the transient linking object created for one job.
type Server struct {
	Name   string
	Remote route.Endpoint // the database the server reaches
}

// Job is the SQL-relevant part of one copy.
type Job struct {
	SourceSchema string
	TargetSchema string
	Table        string
	Columns      []*schema.Column // reconciled, target order, target types
	// SourceNames spells Columns the way the source does. Empty means same spelling.
	SourceNames  []string
}

// Linker abstracts one server-side linking mechanism.
type Linker interface {
	Mode() string
	// Side is where Setup, Copy and Teardown execute. The server points at the other side.
	Side() Side

	// Statement Generation
	Setup(s Server, job Job) []string
	Copy(s Server, job Job) string
	Teardown(s Server) []string

	// Maintenance
	Cleanup(serverNames []string) []string
}
