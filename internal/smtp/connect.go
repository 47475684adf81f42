package smtp

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	smtpclient "github.com/emersion/go-smtp"

	"github.com/agentmailproxy/mailproxy/internal/models"
)

const (
	dialTimeout  = 5 * time.Second
	ehloIdentity = "mailproxy"
)

// dial connects to the SMTP server. useTLS selects implicit TLS (port 465);
// plain connections opportunistically upgrade via STARTTLS in authenticate
// when the server advertises it (port 587), matching spec.md section 6.
func dial(addr string, useTLS bool) (*smtpclient.Client, error) {
	if useTLS {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, &tls.Config{ServerName: hostOf(addr)})
		if err != nil {
			return nil, fmt.Errorf("dial tls: %w", err)
		}
		c, err := smtpclient.NewClient(conn, hostOf(addr))
		if err != nil {
			return nil, fmt.Errorf("new client: %w", err)
		}
		return c, nil
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c, err := smtpclient.NewClient(conn, hostOf(addr))
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	return c, nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// authenticate EHLOs, opportunistically upgrades to STARTTLS whenever the
// server advertises it, then authenticates with PLAIN or
// XOAUTH2 depending on creds.AuthKind.
func authenticate(c *smtpclient.Client, creds models.Credentials) error {
	if err := c.Hello(ehloIdentity); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: creds.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	var auth sasl.Client
	if creds.AuthKind == models.AuthKindOAuthBearer {
		auth = sasl.NewXOAuth2Client(creds.User, creds.Secret)
	} else {
		auth = sasl.NewPlainClient("", creds.User, creds.Secret)
	}

	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// build dials and authenticates, producing a handle ready to send.
func build(creds models.Credentials, useTLS bool) (*smtpclient.Client, error) {
	c, err := dial(creds.Addr(), useTLS)
	if err != nil {
		return nil, err
	}

	if err := authenticate(c, creds); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// probe issues NOOP to check whether a session is still alive.
func probe(c *smtpclient.Client) bool {
	return c.Noop() == nil
}
