package imap

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/agentmailproxy/mailproxy/internal/models"
)

const dialTimeout = 5 * time.Second

// dial connects to the IMAP server, using TLS unless useTLS is false (tests
// against the in-memory test server run without TLS).
func dial(addr string, useTLS bool) (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	if useTLS {
		c, err := imapclient.DialWithDialerTLS(dialer, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := imapclient.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return c, nil
}

// authenticate logs in using LOGIN for password credentials, or SASL
// AUTHENTICATE XOAUTH2 for OAuth bearer credentials.
func authenticate(c *imapclient.Client, creds models.Credentials) error {
	if creds.AuthKind == models.AuthKindOAuthBearer {
		if err := c.Authenticate(sasl.NewXOAuth2Client(creds.User, creds.Secret)); err != nil {
			return fmt.Errorf("xoauth2 authenticate: %w", err)
		}
		return nil
	}

	if err := c.Login(creds.User, creds.Secret); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// build dials, authenticates, and selects INBOX, producing a handle ready
// for use. useTLS is a pool-wide setting (false only under test).
func build(creds models.Credentials, useTLS bool) (*imapclient.Client, error) {
	c, err := dial(creds.Addr(), useTLS)
	if err != nil {
		return nil, err
	}

	if err := authenticate(c, creds); err != nil {
		_ = c.Logout()
		return nil, err
	}

	if _, err := c.Select(imap.InboxName, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	return c, nil
}

// probe issues NOOP to check whether a handle is still alive.
func probe(c *imapclient.Client) bool {
	return c.Noop() == nil
}
