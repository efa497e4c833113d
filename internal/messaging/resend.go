package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crewcommand_backend/platform/config"
)

// ResendSender sends plain-text email through the Resend REST API.
type ResendSender struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewResendSender returns a Resend client, or an Unconfigured sender when the
// API key or from address is missing.
func NewResendSender(cfg config.EmailConfig, timeout time.Duration) EmailSender {
	if cfg.GetResendAPIKey() == "" || cfg.GetEmailFromAddress() == "" {
		return Unconfigured{Reason: "Email provider is not configured. Set RESEND_API_KEY and EMAIL_FROM_ADDRESS."}
	}
	return &ResendSender{
		baseURL: strings.TrimRight(firstNonEmpty(cfg.GetResendBaseURL(), "https://api.resend.com"), "/"),
		apiKey:  cfg.GetResendAPIKey(),
		from:    formatFrom(cfg.GetEmailFromName(), cfg.GetEmailFromAddress()),
		http:    &http.Client{Timeout: timeout},
	}
}

// SendEmail posts one email.
func (s *ResendSender) SendEmail(ctx context.Context, msg Email) (Result, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return Result{}, &configError{reason: "Missing recipient email address."}
	}

	payload, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{to},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body resendResponse
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &ProviderError{
			Provider: "resend",
			Status:   resp.StatusCode,
			Message:  firstNonEmpty(body.Message, body.Error, fmt.Sprintf("Email request failed (%d).", resp.StatusCode)),
		}
	}

	return Result{ProviderMessageID: firstNonEmpty(body.ID, body.Data.ID)}, nil
}

func formatFrom(name, address string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

var _ EmailSender = (*ResendSender)(nil)
