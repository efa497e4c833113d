package messaging

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"crewcommand_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender delivers email over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	timeout   time.Duration
}

// NewSMTPSender returns an SMTP sender, or an Unconfigured sender when the
// host or from address is missing.
func NewSMTPSender(cfg config.EmailConfig, timeout time.Duration) EmailSender {
	if cfg.GetSMTPHost() == "" || cfg.GetEmailFromAddress() == "" {
		return Unconfigured{Reason: "Email provider is not configured. Set SMTP_HOST and EMAIL_FROM_ADDRESS."}
	}
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		timeout:   timeout,
	}
}

// SendEmail sends one plain-text message. The generated Message-ID is
// returned as the provider message id.
func (s *SMTPSender) SendEmail(ctx context.Context, email Email) (Result, error) {
	to := strings.TrimSpace(email.To)
	if to == "" {
		return Result{}, &configError{reason: "Missing recipient email address."}
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return Result{}, &configError{reason: fmt.Sprintf("smtp from address rejected: %v", err)}
	}
	if err := msg.To(to); err != nil {
		return Result{}, &configError{reason: "Recipient email address is not valid."}
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, email.Body)
	msg.SetMessageID()

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.timeout),
		gomail.WithDialContextFunc(func(dctx context.Context, network, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, network, addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("smtp send: %w", err)
	}

	return Result{ProviderMessageID: msg.GetMessageID()}, nil
}

var _ EmailSender = (*SMTPSender)(nil)
