package messaging

import (
	"time"

	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"
)

// ProviderConfig is the configuration needed to build both channels.
type ProviderConfig interface {
	config.SMSConfig
	config.EmailConfig
	config.PhoneConfig
	GetProviderTimeout() time.Duration
}

// NewSender builds the SMS and email providers selected by configuration.
// Missing credentials yield senders that fail every message with
// ErrNotConfigured instead of failing startup.
func NewSender(cfg ProviderConfig, log *logger.Logger) Sender {
	timeout := cfg.GetProviderTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var email EmailSender
	switch cfg.GetEmailProvider() {
	case "smtp":
		email = NewSMTPSender(cfg, timeout)
	case "none":
		email = Unconfigured{Reason: "Email delivery is disabled (EMAIL_PROVIDER=none)."}
	default:
		email = NewResendSender(cfg, timeout)
	}

	sms := NewTwilioSender(cfg, cfg.GetPhoneDefaultRegion(), timeout, log)

	if log != nil {
		_, smsOff := sms.(Unconfigured)
		_, emailOff := email.(Unconfigured)
		log.Info("messaging providers initialized",
			"sms_configured", !smsOff,
			"email_provider", cfg.GetEmailProvider(),
			"email_configured", !emailOff,
		)
	}

	return Composite{SMS: sms, Email: email}
}
