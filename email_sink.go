package riglog

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

// Credentials authenticate against the mail relay with SMTP PLAIN.
type Credentials struct {
	Username string `json:"username" yaml:"username" toml:"username" validate:"required"`
	Password string `json:"password" yaml:"password" toml:"password"`
}

// EmailOptions configures an EmailSink.
type EmailOptions struct {
	Name     string
	ToAddrs  []string
	MailHost string
	FromAddr string
	Subject  string
	// Credentials is optional.
	Credentials *Credentials
	// Secure upgrades the session with STARTTLS.
	Secure    bool
	Timeout   time.Duration
	Level     zerolog.Level
	Formatter Formatter

	Enrichment *Enrichment
	Project    string
}

// EmailSink mails every accepted record through an SMTP relay. Delivery
// errors are returned to the caller.
type EmailSink struct {
	sinkBase
	toAddrs     []string
	mailHost    string
	fromAddr    string
	subject     string
	credentials *Credentials
	secure      bool
	timeout     time.Duration
}

func NewEmailSink(opts EmailOptions) (*EmailSink, error) {
	const op errors.Op = "riglog.NewEmailSink"
	if len(opts.ToAddrs) == 0 {
		return nil, errors.New(op).Msg(errMsgNoRecipients)
	}
	if opts.Enrichment != nil && opts.Project != emptyString {
		opts.Enrichment.Install(opts.Project)
	}
	s := &EmailSink{
		toAddrs:     append([]string(nil), opts.ToAddrs...),
		mailHost:    opts.MailHost,
		fromAddr:    opts.FromAddr,
		subject:     opts.Subject,
		credentials: opts.Credentials,
		secure:      opts.Secure,
		timeout:     opts.Timeout,
	}
	if s.mailHost == emptyString {
		s.mailHost = DefaultMailHost
	}
	if s.fromAddr == emptyString {
		s.fromAddr = DefaultFromAddr
	}
	if s.subject == emptyString {
		s.subject = DefaultSubject
	}
	if s.timeout <= 0 {
		s.timeout = DefaultEmailTimeout
	}
	s.init(opts.Name, opts.Level, opts.Formatter)
	return s, nil
}

// ToAddrs returns a copy of the recipient list.
func (s *EmailSink) ToAddrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.toAddrs...)
}

// SetToAddrs replaces the recipients.
func (s *EmailSink) SetToAddrs(addrs []string) {
	s.mu.Lock()
	s.toAddrs = append([]string(nil), addrs...)
	s.mu.Unlock()
}

func (s *EmailSink) MailHost() string { return s.mailHost }

func (s *EmailSink) Subject() string { return s.subject }

// Accept sends one message per record.
func (s *EmailSink) Accept(_ zerolog.Level, line []byte) error {
	const op errors.Op = "riglog.EmailSink.Accept"
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := s.format(line)
	if err != nil {
		return errors.New(op).Err(err).Msg(errMsgSMTP)
	}
	if err = s.send(body); err != nil {
		return errors.New(op).Err(err).Msg(errMsgSMTP)
	}
	return nil
}

func (s *EmailSink) send(body []byte) error {
	addr := mailAddr(s.mailHost)
	host, _, _ := net.SplitHostPort(addr)

	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return err
	}
	if err = conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		_ = conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()

	if s.secure {
		if err = c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if s.credentials != nil {
		if err = c.Auth(plainAuth{username: s.credentials.Username, password: s.credentials.Password}); err != nil {
			return err
		}
	}
	if err = c.Mail(s.fromAddr); err != nil {
		return err
	}
	for _, to := range s.toAddrs {
		if err = c.Rcpt(to); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(s.message(body)); err != nil {
		_ = w.Close()
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *EmailSink) message(body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.fromAddr)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(s.toAddrs, ","))
	fmt.Fprintf(&buf, "Subject: %s\r\n", encodeHeader(s.subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.Write(bytes.ReplaceAll(bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n")), []byte("\n"), []byte("\r\n")))
	return buf.Bytes()
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// encodeHeader folds line breaks into spaces and Q-encodes non ASCII text.
func encodeHeader(v string) string {
	return mime.QEncoding.Encode("utf-8", headerBreaks.Replace(v))
}

// plainAuth is AUTH PLAIN without the TLS requirement of smtp.PlainAuth.
type plainAuth struct {
	username string
	password string
}

func (a plainAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	const op errors.Op = "riglog.plainAuth.Next"
	if more {
		return nil, errors.New(op).Msg(errMsgSMTPAuth)
	}
	return nil, nil
}

// mailAddr appends the default SMTP port when host has none.
func mailAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultSMTPPort)
}

func (s *EmailSink) Close() error { return nil }
