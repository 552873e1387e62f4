package config

import (
	"context"
	"os"

	"pgroute/internal/engine"
	"pgroute/internal/route"
	"pgroute/internal/secrets"

	"github.com/cockroachdb/errors"
)

const DefaultTunnelUser = "ec2-user"

// IAMSSLMode is applied to iam_auth endpoints without an explicit sslmode; RDS refuses
// IAM tokens over plain connections.
const IAMSSLMode = "require"

// SecretSource resolves database payloads. *secrets.Store implements it.
type SecretSource interface {
	Payload(ctx context.Context, name, key string) (*secrets.Payload, error)
}

// BuildPlan resolves credentials and turns cfg into the routing plan. store may be nil
// when no database references a secret.
func BuildPlan(ctx context.Context, cfg *Config, store SecretSource) (route.Plan, error) {
	var plan route.Plan

	src := cfg.Source
	ep, payload, err := resolve(ctx, store, "source", src.Secret, src.SecretKey, src.Connection)
	if err != nil {
		return plan, err
	}
	plan.Source = route.Database{Name: src.Name, Schema: src.Schema, Endpoint: ep}

	if src.Tunnel != nil {
		t, err := buildTunnel(*src.Tunnel, payload)
		if err != nil {
			return plan, err
		}
		plan.Source.Tunnel = t
	}
	if src.Link != nil {
		l := ep
		if src.Link.Host != "" {
			l.Host = src.Link.Host
		}
		if src.Link.Port != 0 {
			l.Port = src.Link.Port
		}
		if src.Link.Database != "" {
			l.Database = src.Link.Database
		}
		plan.Source.Link = &l
	}

	for _, t := range cfg.Targets {
		ep, _, err := resolve(ctx, store, "target "+t.Name, t.Secret, t.SecretKey, t.Connection)
		if err != nil {
			return plan, err
		}
		plan.Entries = append(plan.Entries, route.Entry{
			Target: route.Database{Name: t.Name, Schema: t.Schema, Endpoint: ep},
			Tables: append([]string(nil), t.Tables...),
		})
	}
	return plan, nil
}

// resolve merges a secret payload with inline connection values; inline values win.
func resolve(ctx context.Context, store SecretSource, what, secret, key string, c Connection) (route.Endpoint, *secrets.Payload, error) {
	var ep route.Endpoint
	var p *secrets.Payload

	if secret != "" {
		if store == nil {
			return ep, nil, configErr(errors.Newf("%s: secret %q set but no secret store available", what, secret))
		}
		var err error
		p, err = store.Payload(ctx, secret, key)
		if err != nil {
			return ep, nil, configErr(errors.Wrap(err, what))
		}
		ep = route.Endpoint{
			Host:     p.Host,
			Port:     int(p.Port),
			User:     p.Username,
			Password: p.Password,
			Database: p.DBInstanceIdentifier,
		}
	}

	if c.Host != "" {
		ep.Host = c.Host
	}
	if c.Port != 0 {
		ep.Port = c.Port
	}
	if c.Database != "" {
		ep.Database = c.Database
	}
	if c.Username != "" {
		ep.User = c.Username
	}
	if c.Password != "" {
		ep.Password = c.Password
	}
	ep.SSLMode = c.SSLMode
	ep.IAMAuth = c.IAMAuth
	if ep.IAMAuth && ep.SSLMode == "" {
		ep.SSLMode = IAMSSLMode
	}

	if ep.Host == "" {
		return ep, nil, configErr(errors.Newf("%s: no host", what))
	}
	if ep.User == "" {
		return ep, nil, configErr(errors.Newf("%s: no username", what))
	}
	return ep.Normalized(), p, nil
}

func buildTunnel(t Tunnel, p *secrets.Payload) (*route.Tunnel, error) {
	out := &route.Tunnel{Host: t.Host, Port: t.Port, User: t.User, Fingerprint: t.Fingerprint}
	if out.User == "" {
		out.User = DefaultTunnelUser
	}

	switch {
	case t.KeyFile != "":
		key, err := os.ReadFile(t.KeyFile)
		if err != nil {
			return nil, configErr(errors.Wrapf(err, "failed to read tunnel key %s", t.KeyFile))
		}
		out.PrivateKey = key
	case p != nil && p.SSH != "":
		out.PrivateKey = []byte(p.SSH)
	default:
		return nil, configErr(errors.WithHint(errors.New("tunnel configured without a private key"),
			"set source.tunnel.key_file or store the key under \"ssh\" in the source secret"))
	}
	return out, nil
}

func configErr(err error) error {
	return errors.Mark(err, engine.ErrConfiguration)
}
