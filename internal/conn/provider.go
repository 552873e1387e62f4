package conn

import (
	"context"
	"database/sql"
	"io"
	"net"
	"sort"
	"strconv"

	"pgroute/internal/logger"
	"pgroute/internal/route"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrConnect marks every failure to obtain a session.
var ErrConnect = errors.New("connection failed")

// Opener turns an endpoint into a pool whose notices feed the buffer.
type Opener func(ctx context.Context, ep route.Endpoint, notices *NoticeBuffer) (*sql.DB, error)

// TunnelOpener forwards a local listener to remote through a bastion.
type TunnelOpener interface {
	Open(ctx context.Context, t route.Tunnel, remote string) (local string, closer io.Closer, err error)
}

// TokenSource issues short-lived passwords for IAM-authenticated endpoints.
type TokenSource interface {
	Token(ctx context.Context, ep route.Endpoint) (string, error)
}

// Provider hands out one Handle per database name and owns its lifecycle.
type Provider struct {
	open    Opener
	tunnels TunnelOpener
	tokens  TokenSource
	log     *zap.Logger

	handles map[string]*Handle
}

type ProviderOption func(*Provider)

func WithOpener(o Opener) ProviderOption { return func(p *Provider) { p.open = o } }

func WithTunnels(t TunnelOpener) ProviderOption { return func(p *Provider) { p.tunnels = t } }

func WithTokens(t TokenSource) ProviderOption { return func(p *Provider) { p.tokens = t } }

func NewProvider(log *zap.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{open: OpenPostgres, log: log, handles: make(map[string]*Handle)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OpenPostgres opens a single-connection lib/pq pool with notice capture.
func OpenPostgres(ctx context.Context, ep route.Endpoint, notices *NoticeBuffer) (*sql.DB, error) {
	base, err := pq.NewConnector(ep.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "invalid connection parameters")
	}
	db := sql.OpenDB(pq.ConnectorWithNoticeHandler(base, notices.Add))
	db.SetMaxOpenConns(1)
	return db, nil
}

// Acquire returns the live handle for db, connecting on first use.
func (p *Provider) Acquire(ctx context.Context, db route.Database) (*Handle, error) {
	if h, ok := p.handles[db.Name]; ok {
		return h, nil
	}

	h, err := p.connect(ctx, db)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to connect to %s (%s)", db.Name, db.Endpoint.Redacted()), ErrConnect)
	}
	p.handles[db.Name] = h
	p.log.Info("connected",
		zap.String(logger.FieldDatabase, db.Name),
		zap.String(logger.FieldAddress, db.Endpoint.Redacted()),
		zap.Bool(logger.FieldTunnel, db.Tunnel != nil))
	return h, nil
}

func (p *Provider) connect(ctx context.Context, db route.Database) (*Handle, error) {
	ep := db.Endpoint.Normalized()
	linkEp := db.LinkEndpoint()

	if ep.IAMAuth {
		if p.tokens == nil {
			return nil, errors.New("iam_auth requested but no token source configured")
		}
		token, err := p.tokens.Token(ctx, ep)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build IAM auth token")
		}
		// the link endpoint keeps IAMAuth and gets its own token per job
		ep.Password = token
	}

	var closers []io.Closer
	if db.Tunnel != nil {
		if p.tunnels == nil {
			return nil, errors.New("tunnel configured but no tunnel opener available")
		}
		local, closer, err := p.tunnels.Open(ctx, *db.Tunnel, ep.Address())
		if err != nil {
			return nil, errors.Wrap(err, "failed to open tunnel")
		}
		closers = append(closers, closer)
		if err := pointAt(&ep, local); err != nil {
			closer.Close()
			return nil, err
		}
	}

	h := NewHandle(db.Name, nil, linkEp)
	pool, err := p.open(ctx, ep, h.notices)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	session, err := pool.Conn(ctx)
	if err != nil {
		pool.Close()
		closeAll(closers)
		return nil, err
	}
	if err := session.PingContext(ctx); err != nil {
		session.Close()
		pool.Close()
		closeAll(closers)
		return nil, err
	}

	h.Q = session
	// session first, then its pool, then the tunnel underneath
	h.closers = append([]io.Closer{session, pool}, closers...)
	return h, nil
}

func pointAt(ep *route.Endpoint, local string) error {
	host, port, err := net.SplitHostPort(local)
	if err != nil {
		return errors.Wrapf(err, "bad tunnel address %q", local)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return errors.Wrapf(err, "bad tunnel port %q", port)
	}
	ep.Host, ep.Port = host, n
	return nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// Release closes the handle for name, if open.
func (p *Provider) Release(name string) error {
	h, ok := p.handles[name]
	if !ok {
		return nil
	}
	delete(p.handles, name)
	if err := h.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", name)
	}
	p.log.Debug("released", zap.String(logger.FieldDatabase, name))
	return nil
}

// Close releases every handle still open.
func (p *Provider) Close() error {
	names := make([]string, 0, len(p.handles))
	for n := range p.handles {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs error
	for _, n := range names {
		errs = errors.CombineErrors(errs, p.Release(n))
	}
	return errs
}
