package pool

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens pool connections directly or through a SOCKS5 proxy
type Dialer struct {
	proxyAddr string
	dialer    proxy.Dialer
}

// NewDialer creates a dialer. socksURL is empty for direct connections or
// socks5://[user:pass@]host:port.
func NewDialer(socksURL string, timeout time.Duration) (*Dialer, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	direct := &net.Dialer{Timeout: timeout}
	if socksURL == "" {
		return &Dialer{dialer: direct}, nil
	}

	u, err := url.Parse(socksURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy type: %s (must be 'socks5')", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy host and port are required")
	}

	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS proxy dialer: %w", err)
	}
	return &Dialer{proxyAddr: u.Host, dialer: d}, nil
}

// DialContext opens a connection, honouring ctx when the underlying dialer can
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if dc, ok := d.dialer.(proxy.ContextDialer); ok {
		return dc.DialContext(ctx, network, address)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := d.dialer.Dial(network, address)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Proxied reports whether connections go through a SOCKS5 proxy
func (d *Dialer) Proxied() bool {
	return d.proxyAddr != ""
}

// ProxyAddress returns the proxy host:port, empty when dialing directly
func (d *Dialer) ProxyAddress() string {
	return d.proxyAddr
}
