package smtp

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/beacon/internal/campaign"
)

// relayMessage is one message accepted by the test relay
type relayMessage struct {
	From string
	To   []string
	Data []byte
}

// testRelay is an in-process SMTP relay used to exercise the client side
type testRelay struct {
	Addr string

	user string
	pass string
	// rejectRcpt is refused with 550 at RCPT TO
	rejectRcpt string
	// dataDelay slows down DATA to hold connections open
	dataDelay time.Duration

	mu         sync.Mutex
	messages   []relayMessage
	sessions   int
	active     int
	peakActive int

	srv *smtp.Server
}

func newTestRelay(t *testing.T, user, pass string) *testRelay {
	t.Helper()

	r := &testRelay{user: user, pass: pass}

	srv := smtp.NewServer(r)
	srv.Domain = "relay.test"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	r.srv = srv

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	r.Addr = l.Addr().String()

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return r
}

// Settings returns relay settings pointing at this relay
func (r *testRelay) Settings(t *testing.T) *campaign.SMTPSettings {
	t.Helper()
	host, port, err := net.SplitHostPort(r.Addr)
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return &campaign.SMTPSettings{
		Host:       host,
		Port:       p,
		User:       r.user,
		Pass:       r.pass,
		SenderName: "Beacon News",
	}
}

func (r *testRelay) Messages() []relayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relayMessage(nil), r.messages...)
}

func (r *testRelay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

func (r *testRelay) PeakActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakActive
}

// NewSession implements smtp.Backend
func (r *testRelay) NewSession(c *smtp.Conn) (smtp.Session, error) {
	r.mu.Lock()
	r.sessions++
	r.active++
	if r.active > r.peakActive {
		r.peakActive = r.active
	}
	r.mu.Unlock()
	return &relaySession{relay: r}, nil
}

type relaySession struct {
	relay    *testRelay
	authUser string
	from     string
	to       []string
}

func (s *relaySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		s.relay.mu.Lock()
		user, pass := s.relay.user, s.relay.pass
		s.relay.mu.Unlock()
		if username != user || password != pass {
			return smtp.ErrAuthFailed
		}
		s.authUser = username
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if s.relay.user != "" && s.authUser == "" {
		return &smtp.SMTPError{Code: 530, Message: "Authentication required"}
	}
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if to == s.relay.rejectRcpt {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.relay.dataDelay > 0 {
		time.Sleep(s.relay.dataDelay)
	}
	s.relay.mu.Lock()
	s.relay.messages = append(s.relay.messages, relayMessage{From: s.from, To: s.to, Data: data})
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	s.relay.mu.Lock()
	s.relay.active--
	s.relay.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
