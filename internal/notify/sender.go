package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"verifyaura/internal/config"
)

const dialTimeout = 5 * time.Second

// CertificateNotice tells a participant that a certificate was issued.
type CertificateNotice struct {
	To              string
	ParticipantName string
	EventName       string
	EventDate       string
	CertificateID   string
}

type Sender interface {
	SendCertificateIssued(ctx context.Context, n CertificateNotice) error
}

func NewSender(cfg config.Config, log zerolog.Logger) Sender {
	log = log.With().Str("component", "notify").Logger()
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			From:               cfg.SMTPFrom,
			TLS:                cfg.SMTPTLS,
			StartTLS:           cfg.SMTPStartTLS,
			InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
			VerifyBaseURL:      cfg.VerifyBaseURL,
		}
	default:
		return LogSender{VerifyBaseURL: cfg.VerifyBaseURL, Log: log}
	}
}

// VerifyLink is the public page for a certificate, or "" without a base URL.
func VerifyLink(baseURL, certificateID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/verify/%s", base, certificateID)
}

type LogSender struct {
	VerifyBaseURL string
	Log           zerolog.Logger
}

func (s LogSender) SendCertificateIssued(ctx context.Context, n CertificateNotice) error {
	_ = ctx
	s.Log.Info().
		Str("to", n.To).
		Str("certificate_id", n.CertificateID).
		Str("event", n.EventName).
		Str("link", VerifyLink(s.VerifyBaseURL, n.CertificateID)).
		Msg("certificate issued")
	return nil
}

type SMTPSender struct {
	Host               string
	Port               int
	From               string
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
	VerifyBaseURL      string
}

func (s SMTPSender) SendCertificateIssued(ctx context.Context, n CertificateNotice) error {
	raw, err := BuildCertificateMessage(s.From, s.VerifyBaseURL, n, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build certificate message: %w", err)
	}
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.From); err != nil {
		return err
	}
	if err := client.Rcpt(n.To); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Probe checks the relay is reachable and, when configured, negotiates STARTTLS.
func (s SMTPSender) Probe(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func (s SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	tlsCfg := &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.TLS {
		conn = tls.Client(conn, tlsCfg)
	}
	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if s.StartTLS && !s.TLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, fmt.Errorf("SMTP STARTTLS extension not available")
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// BuildCertificateMessage renders the RFC 5322 notice as a single text/plain part.
func BuildCertificateMessage(from, verifyBaseURL string, n CertificateNotice, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from, Name: "VerifyAura"}})
	h.SetAddressList("To", []*mail.Address{{Address: n.To, Name: n.ParticipantName}})
	h.SetSubject(fmt.Sprintf("Your certificate for %s", n.EventName))
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\r\n\r\n", n.ParticipantName)
	fmt.Fprintf(&body, "A certificate of participation for %s", n.EventName)
	if n.EventDate != "" {
		fmt.Fprintf(&body, " (%s)", n.EventDate)
	}
	body.WriteString(" has been issued to you.\r\n\r\n")
	fmt.Fprintf(&body, "Certificate ID: %s\r\n", n.CertificateID)
	if link := VerifyLink(verifyBaseURL, n.CertificateID); link != "" {
		fmt.Fprintf(&body, "Verify it at: %s\r\n", link)
	}

	var buf bytes.Buffer
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(body.String())); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
