// pkg/email/email.go
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"shadowrealms_backend/pkg/logging"
)

const DefaultAPIURL = "https://api.resend.com/emails"

var ErrMissingAPIKey = errors.New("resend API key is required")

type EmailService struct {
	apiKey    string
	from      string
	apiURL    string
	client    *http.Client
	templates *template.Template
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// DailyDigestData feeds templates/daily_digest.html.
type DailyDigestData struct {
	GameName         string
	Date             time.Time
	NewSubscribers   int64
	TotalSubscribers int64
	WeekSubscribers  int64
	PageViews        int64
	Recent           []string
}

type Option func(*EmailService)

// WithAPIURL points the service at another Resend compatible endpoint.
func WithAPIURL(url string) Option {
	return func(s *EmailService) {
		s.apiURL = url
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *EmailService) {
		s.client = client
	}
}

func NewEmailService(apiKey, from string, opts ...Option) (*EmailService, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	s := &EmailService{
		apiKey:    apiKey,
		from:      from,
		apiURL:    DefaultAPIURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		templates: templates,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *EmailService) sendTemplateEmail(ctx context.Context, to, subject, templateName string, data interface{}) error {
	log := logging.Module("email")

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}

	emailData := EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body.String(),
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("error marshaling email data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	log.Debug().Str("to", to).Int("status", resp.StatusCode).Msg("Resend API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("resend API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return nil
}

func (s *EmailService) SendDailyDigest(ctx context.Context, to string, data DailyDigestData) error {
	subject := fmt.Sprintf("%s daily signups: %d new 📊", data.GameName, data.NewSubscribers)
	return s.sendTemplateEmail(ctx, to, subject, "daily_digest.html", data)
}
