package route_test

import (
	"net/url"
	"testing"

	"pgroute/internal/route"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointDSN(t *testing.T) {
	e := route.Endpoint{Host: "db.internal", User: "copier", Password: "p@ss word", Database: "app"}

	u, err := url.Parse(e.DSN())
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/app", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "pgroute", u.Query().Get("application_name"))
}

func TestDatabaseLinkEndpoint(t *testing.T) {
	db := route.Database{Endpoint: route.Endpoint{Host: "127.0.0.1", Port: 40123}}
	assert.Equal(t, "127.0.0.1", db.LinkEndpoint().Host)
	assert.Equal(t, "postgres", db.LinkEndpoint().Database)

	db.Link = &route.Endpoint{Host: "source.vpc", User: "reader"}
	link := db.LinkEndpoint()
	assert.Equal(t, "source.vpc", link.Host)
	assert.Equal(t, 5432, link.Port)
}

func TestPlanFilter(t *testing.T) {
	plan := route.Plan{Entries: []route.Entry{
		{Target: route.Database{Name: "a"}, Tables: []string{"x", "y"}},
		{Target: route.Database{Name: "b"}, Tables: []string{"y", "z"}},
	}}
	assert.Equal(t, 4, plan.JobCount())

	assert.Equal(t, plan, plan.Filter(nil, nil))

	onlyB := plan.Filter([]string{"b"}, nil)
	require.Len(t, onlyB.Entries, 1)
	assert.Equal(t, "b", onlyB.Entries[0].Target.Name)

	onlyZ := plan.Filter(nil, []string{"z"})
	require.Len(t, onlyZ.Entries, 1)
	assert.Equal(t, []string{"z"}, onlyZ.Entries[0].Tables)
	assert.Equal(t, 1, onlyZ.JobCount())
}
