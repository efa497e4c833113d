// Package messaging delivers outbound follow-up messages through SMS and email
// providers. Providers report delivery failures as errors; a failure wrapping
// ErrNotConfigured means the provider can never succeed until it is configured
// and callers must not retry it.
package messaging

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured marks a provider that is missing credentials or a sender.
var ErrNotConfigured = errors.New("messaging provider not configured")

// SMS is one outbound text message.
type SMS struct {
	To   string
	Body string
}

// Email is one outbound plain-text email.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Result is what a provider returns for an accepted message.
// ProviderMessageID is empty when the provider does not return one.
type Result struct {
	ProviderMessageID string
}

// SMSSender sends text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMS) (Result, error)
}

// EmailSender sends emails.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) (Result, error)
}

// Sender is the combined collaborator used by the dispatcher.
type Sender interface {
	SMSSender
	EmailSender
}

// IsNotConfigured reports whether err is a configuration failure.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// ProviderError is a non-2xx answer from a provider API.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Composite pairs an SMS sender with an email sender.
type Composite struct {
	SMS   SMSSender
	Email EmailSender
}

// SendSMS delegates to the SMS sender.
func (c Composite) SendSMS(ctx context.Context, msg SMS) (Result, error) {
	if c.SMS == nil {
		return Result{}, notConfigured("sms")
	}
	return c.SMS.SendSMS(ctx, msg)
}

// SendEmail delegates to the email sender.
func (c Composite) SendEmail(ctx context.Context, msg Email) (Result, error) {
	if c.Email == nil {
		return Result{}, notConfigured("email")
	}
	return c.Email.SendEmail(ctx, msg)
}

// Unconfigured rejects every message with ErrNotConfigured.
type Unconfigured struct {
	Reason string
}

// SendSMS implements SMSSender.
func (u Unconfigured) SendSMS(context.Context, SMS) (Result, error) {
	return Result{}, u.err()
}

// SendEmail implements EmailSender.
func (u Unconfigured) SendEmail(context.Context, Email) (Result, error) {
	return Result{}, u.err()
}

func (u Unconfigured) err() error {
	if u.Reason == "" {
		return ErrNotConfigured
	}
	return &configError{reason: u.Reason}
}

type configError struct {
	reason string
}

func (e *configError) Error() string { return e.reason }

func (e *configError) Unwrap() error { return ErrNotConfigured }

func notConfigured(channel string) error {
	return &configError{reason: channel + " provider is not configured."}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var (
	_ Sender = Composite{}
	_ Sender = Unconfigured{}
)
