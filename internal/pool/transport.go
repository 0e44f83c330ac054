package pool

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxLine = 1024 * 1024

// transport moves whole protocol lines
type transport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
}

// lineConn frames messages by newline over a stream connection
type lineConn struct {
	conn net.Conn
	sc   *bufio.Scanner

	mu sync.Mutex
	bw *bufio.Writer
}

func newLineConn(c net.Conn) *lineConn {
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &lineConn{conn: c, sc: sc, bw: bufio.NewWriter(c)}
}

func (l *lineConn) ReadLine() ([]byte, error) {
	if l.sc.Scan() {
		return l.sc.Bytes(), nil
	}
	if err := l.sc.Err(); err != nil {
		return nil, err
	}
	return nil, net.ErrClosed
}

func (l *lineConn) WriteLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.bw.Write(line); err != nil {
		return err
	}
	return l.bw.Flush()
}

func (l *lineConn) Close() error {
	return l.conn.Close()
}

// wsConn carries one message per WebSocket text frame
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) ReadLine() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, line)
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.mu.Unlock()
	return w.conn.Close()
}

// dialTransport connects to ep using the scheme's framing
func dialTransport(ctx context.Context, d *Dialer, ep Endpoint, insecure bool) (transport, error) {
	tlsConf := &tls.Config{
		ServerName:         ep.Host,
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS12,
	}

	if ep.WebSocket() {
		wd := websocket.Dialer{
			NetDialContext:   d.DialContext,
			HandshakeTimeout: 10 * time.Second,
		}
		if ep.TLS() {
			wd.TLSClientConfig = tlsConf
		}
		c, resp, err := wd.DialContext(ctx, ep.URL(), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", ep.URL(), err)
		}
		c.SetReadLimit(maxLine)
		return &wsConn{conn: c}, nil
	}

	c, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address(), err)
	}
	if ep.TLS() {
		tc := tls.Client(c, tlsConf)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", ep.Address(), err)
		}
		c = tc
	}
	return newLineConn(c), nil
}
