package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/phone"

	"golang.org/x/time/rate"
)

const twilioMessagesPath = "/2010-04-01/Accounts/%s/Messages.json"

// TwilioSender sends SMS through the Twilio Messages REST API.
type TwilioSender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	region     string
	limiter    *rate.Limiter
	http       *http.Client
	log        *logger.Logger
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// NewTwilioSender returns a Twilio client, or an Unconfigured sender when the
// account credentials or sender number are missing.
func NewTwilioSender(cfg config.SMSConfig, region string, timeout time.Duration, log *logger.Logger) SMSSender {
	if !cfg.IsSMSEnabled() {
		return Unconfigured{Reason: "Twilio is not configured. Set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER."}
	}

	perSecond := cfg.GetSMSRatePerSecond()
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &TwilioSender{
		baseURL:    strings.TrimRight(firstNonEmpty(cfg.GetTwilioBaseURL(), "https://api.twilio.com"), "/"),
		accountSID: cfg.GetTwilioAccountSID(),
		authToken:  cfg.GetTwilioAuthToken(),
		from:       cfg.GetTwilioFromNumber(),
		region:     region,
		limiter:    rate.NewLimiter(limit, 1),
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
}

// SendSMS posts one message. Recipients are normalized to E.164 first.
func (s *TwilioSender) SendSMS(ctx context.Context, msg SMS) (Result, error) {
	if strings.TrimSpace(msg.To) == "" {
		return Result{}, &configError{reason: "Missing recipient phone number."}
	}
	to, err := phone.ParseE164(msg.To, s.region)
	if err != nil {
		return Result{}, &configError{reason: "Recipient phone number is not valid."}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", msg.Body)

	endpoint := s.baseURL + fmt.Sprintf(twilioMessagesPath, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body twilioResponse
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &ProviderError{
			Provider: "twilio",
			Status:   resp.StatusCode,
			Message:  firstNonEmpty(body.Message, fmt.Sprintf("Twilio request failed (%d).", resp.StatusCode)),
		}
	}

	if s.log != nil {
		s.log.Debug("twilio message accepted", "sid", body.SID)
	}
	return Result{ProviderMessageID: body.SID}, nil
}

var _ SMSSender = (*TwilioSender)(nil)
