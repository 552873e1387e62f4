package tunnel

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"pgroute/internal/logger"
	"pgroute/internal/route"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKey is returned when the bastion presents an unexpected key.
var ErrHostKey = errors.New("unexpected SSH host key fingerprint")

const DefaultPort = 22

// Dialer opens SSH tunnels. It satisfies conn.TunnelOpener.
type Dialer struct {
	Timeout time.Duration
	log     *zap.Logger
}

func NewDialer(log *zap.Logger) *Dialer {
	return &Dialer{Timeout: 15 * time.Second, log: log}
}

// NormalizeFingerprint strips the "SHA256:" prefix and base64 padding.
func NormalizeFingerprint(fp string) string {
	fp = strings.TrimSpace(fp)
	fp = strings.TrimPrefix(fp, "SHA256:")
	return strings.TrimRight(fp, "=")
}

// FingerprintCallback accepts exactly one host key, identified by its SHA256 fingerprint.
func FingerprintCallback(expected string) ssh.HostKeyCallback {
	want := NormalizeFingerprint(expected)
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := NormalizeFingerprint(ssh.FingerprintSHA256(key))
		if got != want {
			return errors.Wrapf(ErrHostKey, "%s presented %s", hostname, got)
		}
		return nil
	}
}

func hostKeyCallback(fingerprint string) (ssh.HostKeyCallback, error) {
	if fingerprint != "" {
		return FingerprintCallback(fingerprint), nil
	}
	// no pinned fingerprint: fall back to the user's known_hosts, never to trust-on-first-use
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "no fingerprint configured and no home directory for known_hosts")
	}
	cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "failed to load known_hosts"),
			"set tunnel.fingerprint to the bastion's SHA256 host key fingerprint")
	}
	return cb, nil
}

// Open connects to the bastion and forwards a local listener to remote.
func (d *Dialer) Open(ctx context.Context, t route.Tunnel, remote string) (string, io.Closer, error) {
	signer, err := ssh.ParsePrivateKey(t.PrivateKey)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to parse SSH private key")
	}
	cb, err := hostKeyCallback(t.Fingerprint)
	if err != nil {
		return "", nil, err
	}

	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: cb,
		Timeout:         d.Timeout,
	}

	nd := net.Dialer{Timeout: d.Timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to reach bastion %s", addr)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return "", nil, errors.Wrapf(err, "SSH handshake with %s failed", addr)
	}
	client := ssh.NewClient(c, chans, reqs)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return "", nil, errors.Wrap(err, "failed to listen for tunnel")
	}

	tun := &Tunnel{
		client: client,
		ln:     ln,
		remote: remote,
		log:    d.log.With(zap.String(logger.FieldTunnel, addr), zap.String(logger.FieldAddress, remote)),
	}
	tun.wg.Add(1)
	go tun.serve()

	tun.log.Info("SSH tunnel running", zap.String("local", ln.Addr().String()))
	return ln.Addr().String(), tun, nil
}

// Tunnel is one live forwarding listener.
type Tunnel struct {
	client *ssh.Client
	ln     net.Listener
	remote string
	log    *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		local, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	upstream, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Error("could not open SSH channel", zap.Error(err))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(upstream, local)
	go pipe(local, upstream)
	<-done
}

// Close stops accepting, tears down the SSH session and waits for forwarders.
func (t *Tunnel) Close() error {
	var errs error
	t.closeOnce.Do(func() {
		errs = errors.CombineErrors(errs, t.ln.Close())
		errs = errors.CombineErrors(errs, t.client.Close())
		t.wg.Wait()
	})
	return errs
}
