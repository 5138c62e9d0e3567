package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"bastion/core"
)

// ChannelSender delivers one notification over a single channel. Send is a
// potentially slow network call; the dispatcher runs senders concurrently
// and treats an error as one failed delivery attempt.
type ChannelSender interface {
	Channel() core.Channel
	Send(ctx context.Context, n *core.Notification) error
}

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUsername string   `mapstructure:"smtp_username"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	FromAddress  string   `mapstructure:"from_address"`
	ToAddresses  []string `mapstructure:"to_addresses"`
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	cfg    EmailConfig
	logger *zap.SugaredLogger
}

// NewEmailSender creates an email channel sender.
func NewEmailSender(cfg EmailConfig, logger *zap.SugaredLogger) *EmailSender {
	return &EmailSender{cfg: cfg, logger: logger}
}

func (s *EmailSender) Channel() core.Channel { return core.ChannelEmail }

// Send formats and sends the notification as a plain-text email to the
// configured recipient list. CRAM-MD5 is tried first; PLAIN over TLS is the
// fallback for servers that do not offer it.
func (s *EmailSender) Send(_ context.Context, n *core.Notification) error {
	if len(s.cfg.ToAddresses) == 0 {
		return fmt.Errorf("%w: no recipients configured for email channel", core.ErrDelivery)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Severity)), n.Title)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.ToAddresses, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(n.Message)
	if n.RelatedThreatID != "" {
		fmt.Fprintf(&msg, "\r\n\r\nRelated threat: %s", n.RelatedThreatID)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.CRAMMD5Auth(s.cfg.SMTPUsername, s.cfg.SMTPPassword)
	err := smtp.SendMail(addr, auth, s.cfg.FromAddress, s.cfg.ToAddresses, []byte(msg.String()))
	if err != nil {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		err = smtp.SendMail(addr, auth, s.cfg.FromAddress, s.cfg.ToAddresses, []byte(msg.String()))
	}
	if err != nil {
		return fmt.Errorf("%w: email send failed: %v", core.ErrDelivery, err)
	}

	s.logger.Infow("Sent email notification", "notification_id", n.ID, "recipients", len(s.cfg.ToAddresses))
	return nil
}

// newHTTPClient builds the client used for outbound webhook-style sends.
// Certificate validation stays enabled.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: core.HTTPClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// WebhookConfig holds settings for the generic webhook channel.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
}

// WebhookSender POSTs the notification as JSON to a configured endpoint.
type WebhookSender struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewWebhookSender creates a webhook channel sender.
func NewWebhookSender(cfg WebhookConfig, logger *zap.SugaredLogger) *WebhookSender {
	return &WebhookSender{cfg: cfg, client: newHTTPClient(), logger: logger}
}

func (s *WebhookSender) Channel() core.Channel { return core.ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, n *core.Notification) error {
	payload := map[string]interface{}{
		"id":                n.ID,
		"title":             n.Title,
		"message":           n.Message,
		"severity":          n.Severity,
		"related_threat_id": n.RelatedThreatID,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal webhook payload: %v", core.ErrDelivery, err)
	}

	method := s.cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create webhook request: %v", core.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Bastion/1.0")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook send failed: %v", core.ErrDelivery, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Debugw("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned status %d", core.ErrDelivery, resp.StatusCode)
	}

	s.logger.Infow("Sent webhook notification", "notification_id", n.ID)
	return nil
}

// SlackConfig holds the incoming-webhook settings for the Slack channel.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// SlackSender posts the notification to a Slack incoming webhook.
type SlackSender struct {
	cfg    SlackConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewSlackSender creates a Slack channel sender.
func NewSlackSender(cfg SlackConfig, logger *zap.SugaredLogger) *SlackSender {
	return &SlackSender{cfg: cfg, client: newHTTPClient(), logger: logger}
}

func (s *SlackSender) Channel() core.Channel { return core.ChannelSlack }

var slackSeverityColor = map[core.NotificationSeverity]string{
	core.NotifyCritical: "#d32f2f",
	core.NotifyError:    "#f44336",
	core.NotifyWarning:  "#ff9800",
	core.NotifyInfo:     "#2196f3",
}

func (s *SlackSender) Send(ctx context.Context, n *core.Notification) error {
	color := slackSeverityColor[n.Severity]
	if color == "" {
		color = "#757575"
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*", n.Title),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"text":  n.Message,
				"fields": []map[string]interface{}{
					{"title": "Severity", "value": string(n.Severity), "short": true},
					{"title": "Notification", "value": fmt.Sprintf("`%s`", n.ID), "short": true},
				},
				"footer": "Bastion",
				"ts":     time.Now().Unix(),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal Slack payload: %v", core.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create Slack request: %v", core.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: Slack send failed: %v", core.ErrDelivery, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Debugw("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: Slack returned status %d", core.ErrDelivery, resp.StatusCode)
	}

	s.logger.Infow("Sent Slack notification", "notification_id", n.ID)
	return nil
}

// SMSConfig holds settings for an HTTP SMS gateway.
type SMSConfig struct {
	ProviderURL string   `mapstructure:"provider_url"`
	APIKey      string   `mapstructure:"api_key"`
	ToNumbers   []string `mapstructure:"to_numbers"`
}

// SMSSender delivers notifications through a generic HTTP SMS provider.
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
	logger *zap.SugaredLogger
}

// NewSMSSender creates an SMS channel sender.
func NewSMSSender(cfg SMSConfig, logger *zap.SugaredLogger) *SMSSender {
	return &SMSSender{cfg: cfg, client: newHTTPClient(), logger: logger}
}

func (s *SMSSender) Channel() core.Channel { return core.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, n *core.Notification) error {
	if len(s.cfg.ToNumbers) == 0 {
		return fmt.Errorf("%w: no phone numbers configured for sms channel", core.ErrDelivery)
	}

	payload := map[string]interface{}{
		"to":   s.cfg.ToNumbers,
		"text": fmt.Sprintf("[%s] %s: %s", n.Severity, n.Title, n.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal sms payload: %v", core.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ProviderURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create sms request: %v", core.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sms send failed: %v", core.ErrDelivery, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Debugw("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sms provider returned status %d", core.ErrDelivery, resp.StatusCode)
	}

	s.logger.Infow("Sent SMS notification", "notification_id", n.ID, "recipients", len(s.cfg.ToNumbers))
	return nil
}

// InAppSender marks a notification ready for in-app display. The persisted
// record is itself the in-app notification, so there is no external call;
// read tracking happens through MarkRead receipts.
type InAppSender struct {
	logger *zap.SugaredLogger
}

// NewInAppSender creates an in-app channel sender.
func NewInAppSender(logger *zap.SugaredLogger) *InAppSender {
	return &InAppSender{logger: logger}
}

func (s *InAppSender) Channel() core.Channel { return core.ChannelInApp }

func (s *InAppSender) Send(_ context.Context, n *core.Notification) error {
	s.logger.Debugw("In-app notification ready", "notification_id", n.ID, "recipients", len(n.Recipients))
	return nil
}
