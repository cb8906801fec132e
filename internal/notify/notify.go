// Package notify delivers claim credentials to capsule beneficiaries.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

//go:embed templates/claim.html
var templates embed.FS

var claimTemplate = template.Must(template.ParseFS(templates, "templates/claim.html"))

const claimSubject = "Notification For Asset Claim!"

// Notifier sends the claim notification to a beneficiary. The message carries
// the login email, the temporary password and the capsule address only.
type Notifier interface {
	SendCapsuleClaimEmail(ctx context.Context, toEmail, toName, temporaryPassword, capsuleAddress string) error
}

type claimData struct {
	Name           string
	Email          string
	Password       string
	CapsuleAddress string
	ExpiresIn      string
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// PasswordTTL is quoted in the message body.
	PasswordTTL time.Duration
}

// SMTPNotifier sends HTML mail through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates a notifier for cfg. Authentication is used when a
// username is set.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	n := &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n
}

// SendCapsuleClaimEmail renders and sends the claim mail.
func (n *SMTPNotifier) SendCapsuleClaimEmail(ctx context.Context, toEmail, toName, temporaryPassword, capsuleAddress string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(toEmail, "\r\n") {
		return fmt.Errorf("invalid recipient %q", toEmail)
	}

	body, err := renderClaim(claimData{
		Name:           toName,
		Email:          toEmail,
		Password:       temporaryPassword,
		CapsuleAddress: capsuleAddress,
		ExpiresIn:      humanDuration(n.cfg.PasswordTTL),
	})
	if err != nil {
		return err
	}

	msg := buildMessage(n.cfg.From, toEmail, claimSubject, body)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, n.auth, envelopeAddress(n.cfg.From), []string{toEmail}, msg); err != nil {
		return fmt.Errorf("failed to send claim email: %w", err)
	}
	return nil
}

func renderClaim(data claimData) ([]byte, error) {
	var buf bytes.Buffer
	if err := claimTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render claim email: %w", err)
	}
	return buf.Bytes(), nil
}

func buildMessage(from, to, subject string, html []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.Write(html)
	return buf.Bytes()
}

// envelopeAddress extracts the bare address of "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "2 hours"
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		return d.Round(time.Minute).String()
	}
}

// LogNotifier records notifications in the log instead of sending mail.
// The temporary password is never written.
type LogNotifier struct {
	Log zerolog.Logger
}

// SendCapsuleClaimEmail logs the notification.
func (n LogNotifier) SendCapsuleClaimEmail(_ context.Context, toEmail, toName, _, capsuleAddress string) error {
	n.Log.Info().
		Str("to", toEmail).
		Str("name", toName).
		Str("capsule_address", capsuleAddress).
		Msg("claim notification (smtp disabled)")
	return nil
}
