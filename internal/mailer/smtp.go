package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// SMTPOptions configures SMTPTransport.
type SMTPOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	AuthType   string
	TLSMode    string
	SkipVerify bool
	Timeout    time.Duration
}

// SMTPTransport sends messages through an SMTP relay, one session per message.
type SMTPTransport struct {
	opts   SMTPOptions
	logger *log.Logger
}

// SMTPOption customises an SMTPTransport.
type SMTPOption func(*SMTPTransport)

// WithSMTPLogger sets the transport logger.
func WithSMTPLogger(logger *log.Logger) SMTPOption {
	return func(t *SMTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewSMTPTransport(opts SMTPOptions, options ...SMTPOption) *SMTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	t := &SMTPTransport{opts: opts, logger: log.Default()}
	for _, opt := range options {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Send implements Transport.
func (s *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	data, err := Compose(msg)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, msg, data); err != nil {
		return smtpStatus(err)
	}
	s.logf("mailer: sent %s to %d recipient(s) via %s", msg.MessageID, len(msg.Recipients()), s.addr())
	return nil
}

func (s *SMTPTransport) deliver(ctx context.Context, msg *Message, data []byte) error {
	sender := msg.From
	if sender == "" {
		sender = s.opts.User
	}
	if sender == "" {
		sender = "noreply@localhost"
	}

	client, err := s.dialSMTPClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := s.authenticate(client); err != nil {
		return err
	}
	if err := client.Mail(sender); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range msg.Recipients() {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to initiate data transfer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data transfer: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("failed to quit SMTP session: %w", err)
	}
	return nil
}

// SendError carries the SMTP reply code of a failed delivery, when the server sent one.
type SendError struct {
	Code int
	Err  error
}

func (e *SendError) Error() string { return e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// Permanent reports a 5xx rejection that retrying will not fix.
func (e *SendError) Permanent() bool { return e.Code >= 500 && e.Code < 600 }

func smtpStatus(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &SendError{Code: protoErr.Code, Err: err}
	}
	if errors.Is(err, io.EOF) {
		return &SendError{Code: 421, Err: err}
	}
	return &SendError{Err: err}
}

func (s *SMTPTransport) addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// tlsMode maps the configured mode to smtps, starttls or none. Port 465 without an explicit
// mode means implicit TLS.
func (s *SMTPTransport) tlsMode() string {
	switch strings.ToLower(strings.TrimSpace(s.opts.TLSMode)) {
	case "tls", "ssl", "smtps":
		return "smtps"
	case "starttls":
		return "starttls"
	case "none":
		return "none"
	}
	if s.opts.Port == 465 {
		return "smtps"
	}
	return "none"
}

func (s *SMTPTransport) dialSMTPClient(ctx context.Context) (*smtp.Client, error) {
	addr := s.addr()
	tlsConfig := &tls.Config{
		ServerName:         s.opts.Host,
		InsecureSkipVerify: s.opts.SkipVerify, //nolint:gosec // opt-in via smtp.skip_verify
	}
	dialer := &net.Dialer{Timeout: s.opts.Timeout}

	mode := s.tlsMode()
	var conn net.Conn
	var err error
	if mode == "smtps" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect via SMTPS: %w", err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.opts.Timeout))
	}

	client, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if mode == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return client, nil
}

func (s *SMTPTransport) authenticate(client *smtp.Client) error {
	if s.opts.User == "" || s.opts.Password == "" {
		return nil
	}

	var auth smtp.Auth
	switch strings.ToLower(strings.TrimSpace(s.opts.AuthType)) {
	case "login":
		auth = &loginAuth{username: s.opts.User, password: s.opts.Password}
	default:
		auth = smtp.PlainAuth("", s.opts.User, s.opts.Password, s.opts.Host)
	}
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	return nil
}

func (s *SMTPTransport) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// loginAuth implements SMTP LOGIN authentication
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:":
			return []byte(a.username), nil
		case "Password:":
			return []byte(a.password), nil
		default:
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}
