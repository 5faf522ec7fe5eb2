package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP emails the re-authentication alert.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	NoTLS    bool

	// To is the recipient; From defaults to To when empty, matching
	// self-notification setups where both are the user's own address.
	To   string
	From string

	// send is swapped in tests to capture the wire payload.
	send func(addr string, msg []byte) error

	now func() time.Time
}

func (*SMTP) Name() string { return "smtp" }

// AuthExpired sends the alert email.
func (s *SMTP) AuthExpired(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.From
	if from == "" {
		from = s.To
	}

	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}

	msg := s.buildMessage(from, username, nowFn())

	send := s.send
	if send == nil {
		send = s.deliver
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := send(addr, msg); err != nil {
		return fmt.Errorf("notify: sending email via %s: %w", addr, err)
	}

	return nil
}

// buildMessage assembles the RFC 5322 payload.
func (s *SMTP) buildMessage(from, username string, now time.Time) []byte {
	subject, body := messageText(username, now)

	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", s.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(b.String())
}

// deliver speaks SMTP directly instead of smtp.SendMail so STARTTLS
// can be skipped for plain-text relays on trusted networks.
func (s *SMTP) deliver(addr string, msg []byte) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if !s.NoTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}

	if s.Username != "" {
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	from := s.From
	if from == "" {
		from = s.To
	}

	if err := c.Mail(from); err != nil {
		return err
	}

	if err := c.Rcpt(s.To); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(msg); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}
