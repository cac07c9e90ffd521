package kafka

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/IBM/sarama"
)

const (
	StartEarliest = "earliest"
	StartLatest   = "latest"
)

// Settings are the effective connection parameters of one consumer. They are
// derived from the datasource configuration and, when tunneling, carry the
// forwarded addresses instead of the configured ones.
type Settings struct {
	Brokers   []string
	GroupID   string
	ClientID  string
	Version   string
	StartFrom string // earliest|latest (default earliest)

	TLSEn    bool
	SASLUser string
	SASLPass string

	DialTimeout time.Duration

	// Routes maps broker addresses as configured or advertised by the cluster
	// to the local address that reaches them. Empty means dial directly.
	Routes map[string]string
}

func (s Settings) withDefaults() Settings {
	if s.StartFrom == "" {
		s.StartFrom = StartEarliest
	}
	if s.DialTimeout == 0 {
		s.DialTimeout = 30 * time.Second
	}
	if s.ClientID == "" {
		s.ClientID = "ktail"
	}
	return s
}

func (s Settings) saramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if s.Version != "" {
		ver, err := sarama.ParseKafkaVersion(s.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	sc.ClientID = s.ClientID
	sc.Consumer.Return.Errors = true
	sc.Net.DialTimeout = s.DialTimeout
	if s.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if s.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = s.SASLUser, s.SASLPass
	}
	switch s.StartFrom {
	case StartLatest:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	if len(s.Routes) > 0 {
		sc.Net.Proxy.Enable = true
		sc.Net.Proxy.Dialer = newRoutedDialer(s.Routes, s.DialTimeout)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: invalid sarama config: %w", err)
	}
	return sc, nil
}

// routedDialer redirects connections for known broker addresses to their
// local forwards and dials everything else unchanged.
type routedDialer struct {
	routes map[string]string
	base   net.Dialer
}

func newRoutedDialer(routes map[string]string, timeout time.Duration) *routedDialer {
	return &routedDialer{routes: routes, base: net.Dialer{Timeout: timeout}}
}

func (d *routedDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *routedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.base.DialContext(ctx, network, d.resolve(addr))
}

func (d *routedDialer) resolve(addr string) string {
	if to, ok := d.routes[addr]; ok {
		return to
	}
	return addr
}
