package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/metrics"
	apperrors "github.com/carlosrabelo/orion/pkg/errors"
	"github.com/carlosrabelo/orion/pkg/logger"
)

// Config holds pool connection settings
type Config struct {
	URL                string
	User               string
	Worker             string
	Pass               string
	InsecureSkipVerify bool
	// SocksProxy is socks5://[user:pass@]host:port, empty to dial directly
	SocksProxy  string
	DialTimeout time.Duration
	// Ratio is the CPU share of windows announced without a cpu_nonces field
	Ratio float64
	Agent string
}

// Username returns the login sent in mining.authorize
func (c Config) Username() string {
	if c.Worker == "" {
		return c.User
	}
	return c.User + "." + c.Worker
}

// Client is a connection to a mining pool
type Client struct {
	cfg    Config
	ep     Endpoint
	dialer *Dialer
	log    *logger.Logger
	mx     *metrics.Collector

	// serializes Connect and Disconnect
	connMu sync.Mutex

	mu       sync.Mutex
	tr       transport
	readDone chan struct{}
	reqID    int64
	pending  map[int64]string

	connected atomic.Bool

	challenges observers[challenge.Assignment]
	pauses     observers[struct{}]
	resumes    observers[struct{}]
}

// NewClient validates cfg and creates a disconnected client. mx may be nil.
func NewClient(cfg Config, log *logger.Logger, mx *metrics.Collector) (*Client, error) {
	ep, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "invalid pool url", err)
	}
	d, err := NewDialer(cfg.SocksProxy, cfg.DialTimeout)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "invalid socks proxy", err)
	}
	if cfg.Agent == "" {
		cfg.Agent = "orion"
	}
	return &Client{
		cfg:     cfg,
		ep:      ep,
		dialer:  d,
		log:     log.With("component", "pool", "pool", ep.Address()),
		mx:      mx,
		pending: make(map[int64]string),
	}, nil
}

// Endpoint returns the parsed pool URL
func (c *Client) Endpoint() Endpoint { return c.ep }

// IsConnected reports whether a connection is up
func (c *Client) IsConnected() bool { return c.connected.Load() }

// OnChallenge registers fn for new assignments
func (c *Client) OnChallenge(fn func(challenge.Assignment)) func() {
	return c.challenges.add(fn)
}

// OnPause registers fn for server-directed pauses
func (c *Client) OnPause(fn func()) func() {
	return c.pauses.add(func(struct{}) { fn() })
}

// OnResume registers fn for server-directed resumes
func (c *Client) OnResume(fn func()) func() {
	return c.resumes.add(func(struct{}) { fn() })
}

// Connect dials the pool, subscribes and authorizes. Connecting while
// connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected.Load() {
		return nil
	}

	tr, err := dialTransport(ctx, c.dialer, c.ep, c.cfg.InsecureSkipVerify)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.tr = tr
	c.readDone = done
	c.pending = make(map[int64]string)
	c.mu.Unlock()
	c.setConnected(true)

	go c.readLoop(tr, done)

	if _, err := c.send(NewSubscribeMessage(c.cfg.Agent)); err != nil {
		c.closeTransport()
		return fmt.Errorf("subscribe: %w", err)
	}
	if _, err := c.send(NewAuthorizeMessage(c.cfg.Username(), c.cfg.Pass)); err != nil {
		c.closeTransport()
		return fmt.Errorf("authorize: %w", err)
	}

	c.log.Info("pool connected via %s%s", c.ep.Scheme, c.proxyNote())
	return nil
}

func (c *Client) proxyNote() string {
	if !c.dialer.Proxied() {
		return ""
	}
	return " through socks5 " + c.dialer.ProxyAddress()
}

// Disconnect closes the connection and waits for the reader to exit.
// Disconnecting while disconnected succeeds.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	done := c.closeTransport()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeTransport closes the live transport and returns its reader's done channel
func (c *Client) closeTransport() chan struct{} {
	c.mu.Lock()
	tr, done := c.tr, c.readDone
	c.tr = nil
	c.mu.Unlock()

	c.setConnected(false)
	if tr == nil {
		return done
	}
	if err := tr.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Debug("close: %v", err)
	}
	return done
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	if c.mx != nil {
		c.mx.SetPoolConnected(v)
	}
}

// ReportDifficulty submits an improved result. Results found while
// disconnected are dropped.
func (c *Client) ReportDifficulty(r challenge.Result) {
	if !c.connected.Load() {
		c.log.Debug("dropping difficulty %d for challenge %d: %v", r.Difficulty, r.ChallengeID, apperrors.ErrNotConnected)
		return
	}
	if _, err := c.send(NewSubmitMessage(r)); err != nil {
		c.log.Warn("submit difficulty %d failed: %v", r.Difficulty, err)
		return
	}
	c.log.Debug("submitted difficulty %d for challenge %d", r.Difficulty, r.ChallengeID)
}

// send assigns a request id, records it as pending and writes the message
func (c *Client) send(msg Message) (int64, error) {
	c.mu.Lock()
	tr := c.tr
	if tr == nil {
		c.mu.Unlock()
		return 0, apperrors.ErrNotConnected
	}
	c.reqID++
	id := c.reqID
	c.pending[id] = msg.Method
	c.mu.Unlock()

	msg.ID = &id
	b, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	return id, tr.WriteLine(b)
}

func (c *Client) readLoop(tr transport, done chan struct{}) {
	defer close(done)
	for {
		line, err := tr.ReadLine()
		if err != nil {
			c.mu.Lock()
			current := c.tr == tr
			if current {
				c.tr = nil
			}
			c.mu.Unlock()
			if current {
				c.setConnected(false)
				_ = tr.Close()
				if !isNetClosed(err) {
					c.log.Warn("pool read err: %v", err)
				} else {
					c.log.Warn("pool disconnected")
				}
			}
			return
		}
		c.handle(line)
	}
}

func (c *Client) handle(line []byte) {
	var msg Message
	if err := msg.Unmarshal(line); err != nil {
		c.log.Debug("bad pool message %q: %v", line, err)
		return
	}

	switch msg.Method {
	case MethodNotify:
		a, err := ParseNotify(msg.Params, c.cfg.Ratio)
		if err != nil {
			c.log.Warn("%v", err)
			return
		}
		c.log.Debug("challenge %d %s range %d - %d", a.ID, a.Challenge, a.StartNonce, a.EndNonce)
		c.challenges.emit(a)
		return
	case MethodPause:
		c.log.Info("pool requested pause")
		c.pauses.emit(struct{}{})
		return
	case MethodResume:
		c.log.Info("pool requested resume")
		c.resumes.emit(struct{}{})
		return
	}

	if !msg.IsResponse() {
		return
	}
	c.mu.Lock()
	method, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	switch method {
	case MethodSubmit:
		if msg.Accepted() {
			if c.mx != nil {
				c.mx.IncrementSubmitsOK()
			}
		} else {
			if c.mx != nil {
				c.mx.IncrementSubmitsBad()
			}
			c.log.Warn("submit rejected: %v", msg.Error)
		}
	case MethodSubscribe, MethodAuthorize:
		if !msg.Accepted() {
			c.log.Error("%s refused: %v", method, msg.Error)
		}
	}
}

// Backoff calculates backoff delay with jitter
func Backoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	mul := 1 << (rand.Intn(4)) // 1,2,4,8
	d := time.Duration(int(min) * mul)
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Intn(250))*time.Millisecond
}

func isNetClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// observers is a registry of callbacks returning unsubscribe functions
type observers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
