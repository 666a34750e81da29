package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/metrics"
)

// ErrPoolClosed is returned by Send after Close
var ErrPoolClosed = errors.New("smtp pool closed")

// PoolConfig bounds the shared relay connection pool
type PoolConfig struct {
	MaxConnections           int
	MaxMessagesPerConnection int
	ConnectionTimeout        time.Duration
	GreetingTimeout          time.Duration
	SocketTimeout            time.Duration
	IdleTimeout              time.Duration
	HeloHostname             string
	// TLSConfig overrides the client TLS configuration, mainly for tests
	TLSConfig *tls.Config
}

func (c *PoolConfig) setDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 5
	}
	if c.MaxMessagesPerConnection <= 0 {
		c.MaxMessagesPerConnection = 100
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 20 * time.Second
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = 20 * time.Second
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.HeloHostname == "" {
		c.HeloHostname = "localhost"
	}
}

// Pool holds relay connections shared by every campaign. At most
// MaxConnections are open at any time and each carries at most
// MaxMessagesPerConnection messages before it is retired.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger
	sem    chan struct{}

	mu     sync.Mutex
	idle   []*pooledConn
	closed bool
}

type pooledConn struct {
	conn      net.Conn
	client    *smtp.Client
	key       string
	sent      int
	idleSince time.Time
}

// NewPool creates an empty pool
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	cfg.setDefaults()
	return &Pool{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConnections),
	}
}

// Send delivers one message over a pooled connection to the relay described by settings
func (p *Pool) Send(ctx context.Context, settings *campaign.SMTPSettings, from string, to []string, data []byte) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return categorizeError(ctx.Err(), "acquire connection")
	}
	defer func() { <-p.sem }()

	pc, err := p.take(ctx, settings)
	if err != nil {
		return err
	}

	// Cancellation interrupts blocking reads by closing the socket
	stop := context.AfterFunc(ctx, func() { pc.conn.Close() })
	err = p.deliver(pc, from, to, data)
	return p.settle(ctx, pc, err, !stop())
}

// settle returns the connection to the pool or drops it depending on the
// outcome. interrupted reports that cancellation closed the socket; a message
// the relay accepted before that still counts as sent.
func (p *Pool) settle(ctx context.Context, pc *pooledConn, err error, interrupted bool) error {
	if interrupted {
		p.discard(pc)
		if err == nil {
			return nil
		}
		return categorizeError(ctx.Err(), "send")
	}

	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) && de.Code > 0 && pc.client.Reset() == nil {
			// The relay refused this message but the session is still usable
			p.put(pc)
		} else {
			p.discard(pc)
		}
		return err
	}

	pc.sent++
	p.put(pc)
	return nil
}

// Verify opens a fresh connection, authenticates and closes it
func (p *Pool) Verify(ctx context.Context, settings *campaign.SMTPSettings) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	pc, err := p.dial(ctx, settings)
	if err != nil {
		return err
	}
	pc.client.Quit()
	p.discard(pc)
	return nil
}

// Close closes idle connections. Connections in use are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.client.Quit()
		p.discard(pc)
	}
	return nil
}

// Idle returns the number of idle connections
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// take returns a live idle connection for settings or dials a new one
func (p *Pool) take(ctx context.Context, settings *campaign.SMTPSettings) (*pooledConn, error) {
	key := settingsKey(settings)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		var pc *pooledConn
		if n := len(p.idle); n > 0 {
			pc = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if pc == nil {
			return p.dial(ctx, settings)
		}
		if pc.key != key || time.Since(pc.idleSince) > p.cfg.IdleTimeout {
			pc.client.Quit()
			p.discard(pc)
			continue
		}
		if err := pc.client.Noop(); err != nil {
			p.logger.Debug("dropping stale relay connection", "error", err)
			p.discard(pc)
			continue
		}
		return pc, nil
	}
}

// put returns a healthy connection to the idle list or retires it
func (p *Pool) put(pc *pooledConn) {
	p.mu.Lock()
	if p.closed || pc.sent >= p.cfg.MaxMessagesPerConnection || len(p.idle) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		pc.client.Quit()
		p.discard(pc)
		return
	}
	pc.idleSince = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

func (p *Pool) discard(pc *pooledConn) {
	pc.client.Close()
	metrics.DecSMTPConnectionsActive()
}

// dial connects, greets, upgrades to TLS and authenticates
func (p *Pool) dial(ctx context.Context, settings *campaign.SMTPSettings) (*pooledConn, error) {
	port := settings.Port
	if port == 0 {
		port = campaign.DefaultSMTPPort
	}
	addr := net.JoinHostPort(settings.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: p.cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Stage:     "connect",
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
			Err:       err,
		}
	}

	tlsConfig := p.tlsConfig(settings.Host)
	if settings.Secure {
		conn = tls.Client(conn, tlsConfig)
	}

	client := smtp.NewClient(conn)
	client.CommandTimeout = p.cfg.SocketTimeout
	client.SubmissionTimeout = p.cfg.SocketTimeout
	metrics.IncSMTPConnections()
	pc := &pooledConn{conn: conn, client: client, key: settingsKey(settings)}

	conn.SetDeadline(time.Now().Add(p.cfg.GreetingTimeout))
	if err := client.Hello(p.cfg.HeloHostname); err != nil {
		p.discard(pc)
		return nil, categorizeError(err, "greeting")
	}
	conn.SetDeadline(time.Time{})

	if !settings.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				p.discard(pc)
				return nil, categorizeError(err, "STARTTLS")
			}
		}
	}

	if settings.User != "" && settings.Pass != "" {
		if !client.SupportsAuth(sasl.Plain) {
			p.discard(pc)
			return nil, &DeliveryError{
				Stage:   "AUTH",
				Message: fmt.Sprintf("relay %s does not offer AUTH PLAIN", addr),
			}
		}
		if err := client.Auth(sasl.NewPlainClient("", settings.User, settings.Pass)); err != nil {
			metrics.IncSMTPAuthFailed()
			p.discard(pc)
			return nil, categorizeError(err, "AUTH")
		}
	}

	p.logger.Debug("relay connection established", "addr", addr, "secure", settings.Secure)
	return pc, nil
}

// deliver runs one MAIL/RCPT/DATA transaction
func (p *Pool) deliver(pc *pooledConn, from string, to []string, data []byte) error {
	if err := pc.client.Mail(from, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	for _, rcpt := range to {
		if err := pc.client.Rcpt(rcpt, nil); err != nil {
			return categorizeError(err, fmt.Sprintf("RCPT TO %s", rcpt))
		}
	}

	wc, err := pc.client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Stage:     "DATA",
			Message:   fmt.Sprintf("failed to write message data: %v", err),
			Err:       err,
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}
	return nil
}

func (p *Pool) tlsConfig(host string) *tls.Config {
	if p.cfg.TLSConfig != nil {
		cfg := p.cfg.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}

// settingsKey identifies the relay session a connection was opened for
func settingsKey(s *campaign.SMTPSettings) string {
	return fmt.Sprintf("%s|%d|%t|%s|%s", s.Host, s.Port, s.Secure, s.User, s.Pass)
}
