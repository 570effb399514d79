package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leesper/holmes"
	"github.com/nsqio/go-nsq"
)

const (
	sinkDialTimeout  = 10 * time.Second
	sinkWriteTimeout = 5 * time.Second
	defaultNSQTopic  = "cot"
)

// Compile-time interface checks.
var (
	_ Dialer = (*netDialer)(nil)
	_ Dialer = (*wsDialer)(nil)
	_ Dialer = (*nsqDialer)(nil)
	_ Dialer = (*writerDialer)(nil)

	_ EventConn = (*streamConn)(nil)
	_ EventConn = (*datagramConn)(nil)
	_ EventConn = (*wsConn)(nil)
	_ EventConn = (*nsqConn)(nil)
	_ EventConn = (*writerConn)(nil)

	_ closeNotifier = (*streamConn)(nil)
	_ closeNotifier = (*wsConn)(nil)
)

var errPeerClosed = errors.New("connection closed by peer")

// EventConn is an established connection to a CoT sink. WriteEvent
// delivers exactly one serialized event.
type EventConn interface {
	WriteEvent(b []byte) error
	Close() error
}

// closeNotifier is implemented by conns that read from the peer and so learn
// about a remote close without writing. The channel is closed once the
// connection is gone.
type closeNotifier interface {
	Done() <-chan struct{}
}

// Dialer establishes connections to one configured sink. For TLS sinks Dial
// returns only after the handshake has completed.
type Dialer interface {
	Dial(ctx context.Context) (EventConn, error)
	String() string
}

func supportedScheme(scheme string) bool {
	switch scheme {
	case "tls", "ssl", "tcp", "udp", "ws", "wss", "nsq", "log":
		return true
	}
	return false
}

// NewDialer builds the dialer selected by the COT_URL scheme.
func NewDialer(cfg *Config) (Dialer, error) {
	u, err := url.Parse(cfg.CotURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tls", "ssl":
		tc, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		return &netDialer{network: "tcp", address: u.Host, tlsConfig: tc}, nil
	case "tcp", "udp":
		return &netDialer{network: u.Scheme, address: u.Host}, nil
	case "ws", "wss":
		d := &wsDialer{url: u.String()}
		if u.Scheme == "wss" {
			tc, err := clientTLSConfig(cfg)
			if err != nil {
				return nil, err
			}
			d.tlsConfig = tc
		}
		return d, nil
	case "nsq":
		topic := strings.Trim(u.Path, "/")
		if topic == "" {
			topic = defaultNSQTopic
		}
		return &nsqDialer{address: u.Host, topic: topic}, nil
	case "log":
		return &writerDialer{name: u.String(), w: os.Stdout}, nil
	}
	return nil, fmt.Errorf("unsupported sink scheme %q", u.Scheme)
}

func clientTLSConfig(cfg *Config) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.VerifyTLS,
	}
	if cfg.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// netDialer covers plain TCP, TLS over TCP and UDP (unicast or multicast).
type netDialer struct {
	network   string
	address   string
	tlsConfig *tls.Config
}

func (d *netDialer) String() string {
	if d.tlsConfig != nil {
		return "tls://" + d.address
	}
	return d.network + "://" + d.address
}

func (d *netDialer) Dial(ctx context.Context) (EventConn, error) {
	if d.tlsConfig != nil {
		td := &tls.Dialer{Config: d.tlsConfig}
		c, err := td.DialContext(ctx, "tcp", d.address)
		if err != nil {
			return nil, err
		}
		return newStreamConn(c), nil
	}
	c, err := (&net.Dialer{}).DialContext(ctx, d.network, d.address)
	if err != nil {
		return nil, err
	}
	if d.network == "udp" {
		return &datagramConn{conn: c}, nil
	}
	return newStreamConn(c), nil
}

// streamConn writes events back to back on a TCP or TLS stream. Inbound
// data (TAK server pings and echoes) is drained in the background so the
// peer never blocks on us, and so a peer close is noticed before the next
// write.
type streamConn struct {
	conn   net.Conn
	closed atomic.Bool
	done   chan struct{}
}

func newStreamConn(c net.Conn) *streamConn {
	sc := &streamConn{conn: c, done: make(chan struct{})}
	go sc.drain()
	return sc
}

func (c *streamConn) drain() {
	defer close(c.done)
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			logInbound(buf[:n])
		}
		if err != nil {
			c.closed.Store(true)
			return
		}
	}
}

func (c *streamConn) WriteEvent(b []byte) error {
	if c.closed.Load() {
		return errPeerClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *streamConn) Done() <-chan struct{} { return c.done }

func (c *streamConn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func logInbound(b []byte) {
	if bytes.Contains(b, []byte("takPing")) {
		return
	}
	holmes.Debugf("received CoT: %s", b)
}

// datagramConn sends one UDP datagram per event.
type datagramConn struct {
	conn net.Conn
}

func (c *datagramConn) WriteEvent(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *datagramConn) Close() error { return c.conn.Close() }

// wsDialer streams events as websocket text frames.
type wsDialer struct {
	url       string
	tlsConfig *tls.Config
}

func (d *wsDialer) String() string { return d.url }

func (d *wsDialer) Dial(ctx context.Context) (EventConn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		TLSClientConfig:  d.tlsConfig,
	}
	conn, resp, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	wc := &wsConn{conn: conn, done: make(chan struct{})}
	go wc.readPump()
	return wc, nil
}

type wsConn struct {
	conn   *websocket.Conn
	closed atomic.Bool
	done   chan struct{}
}

// readPump processes control frames and records peer close.
func (c *wsConn) readPump() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.closed.Store(true)
			return
		}
		logInbound(msg)
	}
}

func (c *wsConn) WriteEvent(b []byte) error {
	if c.closed.Load() {
		return errPeerClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// nsqDialer publishes every event to an NSQ topic on a single nsqd.
type nsqDialer struct {
	address string
	topic   string
}

func (d *nsqDialer) String() string { return "nsq://" + d.address + "/" + d.topic }

func (d *nsqDialer) Dial(ctx context.Context) (EventConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := nsq.NewConfig()
	cfg.DialTimeout = sinkDialTimeout
	cfg.WriteTimeout = sinkWriteTimeout
	producer, err := nsq.NewProducer(d.address, cfg)
	if err != nil {
		return nil, err
	}
	producer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, err
	}
	return &nsqConn{producer: producer, topic: d.topic}, nil
}

type nsqConn struct {
	producer *nsq.Producer
	topic    string
}

func (c *nsqConn) WriteEvent(b []byte) error { return c.producer.Publish(c.topic, b) }

func (c *nsqConn) Close() error {
	c.producer.Stop()
	return nil
}

type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	holmes.Infof("nsq: %s", s)
	return nil
}

// writerDialer writes newline-terminated events to w. It backs log://stdout;
// holmes logs to stderr, so stdout carries nothing but events.
type writerDialer struct {
	name string
	w    io.Writer
}

func (d *writerDialer) String() string { return d.name }

func (d *writerDialer) Dial(context.Context) (EventConn, error) {
	return &writerConn{w: d.w}, nil
}

type writerConn struct {
	w io.Writer
}

func (c *writerConn) WriteEvent(b []byte) error {
	_, err := fmt.Fprintf(c.w, "%s\n", b)
	return err
}

func (c *writerConn) Close() error { return nil }
