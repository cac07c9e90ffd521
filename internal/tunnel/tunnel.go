// Package tunnel reaches Kafka brokers through an SSH bastion by opening one
// local port forward per broker.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"ktail/internal/blocking"
	"ktail/internal/logging"
	"ktail/internal/telemetry"
)

// ErrEstablishmentFailed wraps every failure to bring a tunnel up: bad
// credentials, unreachable bastion, rejected handshake or forward setup.
var ErrEstablishmentFailed = errors.New("tunnel: establishment failed")

// Conn is the part of an SSH client a tunnel needs. *ssh.Client implements it.
type Conn interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// Dialer connects and authenticates to the bastion.
type Dialer func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error)

// ListenFunc binds the local side of a forward.
type ListenFunc func(network, addr string) (net.Listener, error)

type Option func(*options)

type options struct {
	dial   Dialer
	listen ListenFunc
	log    *slog.Logger
}

func WithDialer(d Dialer) Option     { return func(o *options) { o.dial = d } }
func WithListen(l ListenFunc) Option { return func(o *options) { o.listen = l } }
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Session is an established tunnel. Forwards are listed in the order of the
// broker addresses they were opened for.
type Session struct {
	conn     Conn
	forwards []*forward
	pool     *blocking.Pool
	log      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// ForwardInfo describes one established forward.
type ForwardInfo struct {
	Remote    string
	LocalPort int
}

// LocalAddr is the address Kafka clients should dial instead of Remote.
func (f ForwardInfo) LocalAddr() string {
	return net.JoinHostPort("localhost", strconv.Itoa(f.LocalPort))
}

// Open connects to the bastion described by cfg and forwards a local port to
// every broker. The blocking work runs on pool. On failure, or when ctx ends
// first, everything opened so far is torn down before Open returns or, for a
// still running handshake, as soon as it finishes.
func Open(ctx context.Context, pool *blocking.Pool, cfg Config, brokers []string, opts ...Option) (*Session, error) {
	o := options{dial: dialSSH, listen: net.Listen, log: logging.Component("tunnel")}
	for _, fn := range opts {
		fn(&o)
	}
	cfg = cfg.WithDefaults()

	s, err := blocking.Acquire(ctx, pool, func() (*Session, error) {
		return establish(ctx, pool, cfg, brokers, o)
	}, func(s *Session) {
		o.log.Info("tearing down tunnel established after cancellation", "bastion", cfg.Addr())
		_ = s.teardown()
	})
	if err != nil {
		telemetry.TunnelEstablishments.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrEstablishmentFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEstablishmentFailed, err)
	}
	telemetry.TunnelEstablishments.WithLabelValues("ok").Inc()
	return s, nil
}

func establish(ctx context.Context, pool *blocking.Pool, cfg Config, brokers []string, o options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstablishmentFailed, err)
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no broker addresses to forward", ErrEstablishmentFailed)
	}
	targets := make([]string, 0, len(brokers))
	for _, b := range brokers {
		addr, err := BrokerAddr(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEstablishmentFailed, err)
		}
		targets = append(targets, addr)
	}

	cc, err := clientConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstablishmentFailed, err)
	}

	start := time.Now()
	conn, err := o.dial(ctx, cfg.Addr(), cc)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s@%s: %w", ErrEstablishmentFailed, cfg.User, cfg.Addr(), err)
	}
	o.log.Info("ssh session connected", "bastion", cfg.Addr(), "user", cfg.User, "elapsed", time.Since(start))

	s := &Session{conn: conn, pool: pool, log: o.log}
	for _, remote := range targets {
		if err := s.addForward(remote, o.listen); err != nil {
			if terr := s.teardown(); terr != nil {
				o.log.Warn("teardown after failed forward", "err", terr)
			}
			return nil, fmt.Errorf("%w: forward %s: %w", ErrEstablishmentFailed, remote, err)
		}
	}
	return s, nil
}

func (s *Session) addForward(remote string, listen ListenFunc) error {
	ln, err := listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	port, err := listenerPort(ln)
	if err != nil {
		_ = ln.Close()
		return err
	}
	f := newForward(remote, port, ln, s.conn, s.log)
	s.forwards = append(s.forwards, f)
	telemetry.ForwardsActive.Inc()
	s.log.Debug("forward opened", "local_port", port, "remote", remote)
	go f.serve()
	return nil
}

func listenerPort(ln net.Listener) (int, error) {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port, nil
	}
	_, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// Forwards lists the established forwards in broker order.
func (s *Session) Forwards() []ForwardInfo {
	out := make([]ForwardInfo, 0, len(s.forwards))
	for _, f := range s.forwards {
		out = append(out, ForwardInfo{Remote: f.remote, LocalPort: f.localPort})
	}
	return out
}

// Addrs returns localhost:<port> for every forward, in broker order.
func (s *Session) Addrs() []string {
	out := make([]string, 0, len(s.forwards))
	for _, f := range s.Forwards() {
		out = append(out, f.LocalAddr())
	}
	return out
}

// Routes maps each forwarded broker address to its local address.
func (s *Session) Routes() map[string]string {
	out := make(map[string]string, len(s.forwards))
	for _, f := range s.Forwards() {
		out[f.Remote] = f.LocalAddr()
	}
	return out
}

// Close removes every forward and then disconnects the SSH session. It is
// idempotent; failures are logged and returned combined.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.pool.Wait(func() { s.closeErr = s.teardown() })
	})
	return s.closeErr
}

func (s *Session) teardown() error {
	var err error
	for i := len(s.forwards) - 1; i >= 0; i-- {
		f := s.forwards[i]
		if ferr := f.close(); ferr != nil {
			s.log.Warn("remove forward", "local_port", f.localPort, "remote", f.remote, "err", ferr)
			err = multierr.Append(err, fmt.Errorf("remove forward %d: %w", f.localPort, ferr))
		}
		telemetry.ForwardsActive.Dec()
		s.log.Debug("forward removed", "local_port", f.localPort, "remote", f.remote)
	}
	s.forwards = nil

	if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		s.log.Warn("disconnect ssh session", "err", cerr)
		err = multierr.Append(err, fmt.Errorf("disconnect: %w", cerr))
	}
	return err
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKey = cb
	}

	cc := &ssh.ClientConfig{
		User:            cfg.User,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}
	if a := cfg.Auth; a != nil {
		switch {
		case a.Password != "":
			cc.Auth = append(cc.Auth, ssh.Password(a.Password))
		case a.Identity != "":
			signer, err := parseIdentity(*a)
			if err != nil {
				return nil, err
			}
			cc.Auth = append(cc.Auth, ssh.PublicKeys(signer))
		}
	}
	return cc, nil
}

func parseIdentity(a Auth) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if a.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(a.Identity), []byte(a.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(a.Identity))
	}
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return signer, nil
}

func dialSSH(ctx context.Context, addr string, cc *ssh.ClientConfig) (Conn, error) {
	d := net.Dialer{Timeout: cc.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cc.Timeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(cc.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
