package tunnel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSSHPort    = 22
	DefaultBrokerPort = "9092"
	DefaultTimeout    = 30 * time.Second
)

// Auth carries at most one credential: a password or a PEM encoded private
// key, optionally protected by Passphrase.
type Auth struct {
	Password   string `koanf:"password" yaml:"password,omitempty"`
	Identity   string `koanf:"identity" yaml:"identity,omitempty"`
	Passphrase string `koanf:"passphrase" yaml:"passphrase,omitempty"`
}

// Config describes the bastion the Kafka connection is tunneled through.
type Config struct {
	Host           string        `koanf:"host" yaml:"host"`
	Port           int           `koanf:"port" yaml:"port,omitempty"`
	User           string        `koanf:"user" yaml:"user"`
	Auth           *Auth         `koanf:"auth" yaml:"auth,omitempty"`
	KnownHostsFile string        `koanf:"knownHostsFile" yaml:"knownHostsFile,omitempty"`
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout,omitempty"`
}

func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultSSHPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("tunnel.host cannot be empty")
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("tunnel.user cannot be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("tunnel.port %d out of range", c.Port)
	}
	if a := c.Auth; a != nil {
		if a.Password != "" && a.Identity != "" {
			return errors.New("tunnel.auth: set either password or identity, not both")
		}
		if a.Passphrase != "" && a.Identity == "" {
			return errors.New("tunnel.auth: passphrase requires identity")
		}
	}
	return nil
}

// Addr is the bastion's host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.WithDefaults().Port))
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Auth == nil {
		return c
	}
	a := *c.Auth
	if a.Password != "" {
		a.Password = "******"
	}
	if a.Identity != "" {
		a.Identity = "******"
	}
	if a.Passphrase != "" {
		a.Passphrase = "******"
	}
	c.Auth = &a
	return c
}

// BrokerAddr normalizes a broker address to host:port, defaulting the port to
// 9092.
func BrokerAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty broker address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		var aerr *net.AddrError
		if errors.As(err, &aerr) && strings.Contains(aerr.Err, "missing port") {
			return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultBrokerPort), nil
		}
		return "", fmt.Errorf("broker address %q: %w", addr, err)
	}
	if host == "" {
		return "", fmt.Errorf("broker address %q: missing host", addr)
	}
	if port == "" {
		port = DefaultBrokerPort
	}
	return net.JoinHostPort(host, port), nil
}
