package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"consenthub/config"
	"consenthub/models"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer delivers outbound email
type Mailer interface {
	Send(email *Email) error
}

// EmailSender delivers through Resend, or logs when EMAIL_TEST_MODE is on
type EmailSender struct {
	cfg *config.Config
}

func NewEmailSender(cfg *config.Config) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(email *Email) error {
	return SendEmail(s.cfg, email)
}

// SendEmail sends an email using Resend API
func SendEmail(cfg *config.Config, email *Email) error {
	// In development mode, log the email instead of sending
	if cfg.EmailTestMode {
		logEmailToConsole(email)
		return nil
	}

	if cfg.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	client := resend.NewClient(cfg.ResendAPIKey)
	fromAddress := fmt.Sprintf("%s <%s>", cfg.EmailFromName, cfg.EmailFrom)

	params := &resend.SendEmailRequest{
		From:    fromAddress,
		To:      email.To,
		Subject: email.Subject,
	}

	// Set body (prefer HTML if available)
	if email.HTMLBody != "" {
		params.Html = email.HTMLBody
	}
	if email.TextBody != "" {
		params.Text = email.TextBody
	}

	if params.Html == "" && params.Text == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	sent, err := client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}

	zap.S().Infow("email sent", "provider", "resend", "id", sent.Id, "to", email.To)
	return nil
}

// logEmailToConsole logs email details in development mode
func logEmailToConsole(email *Email) {
	zap.S().Infow("email logged (test mode, not sent)",
		"to", email.To,
		"subject", email.Subject,
		"text", email.TextBody,
		"html", truncate(email.HTMLBody, 500),
	)
}

// truncate truncates a string to a maximum length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// sendAsync delivers in a goroutine; failures are logged and never reach the caller
func sendAsync(m Mailer, email *Email) {
	if m == nil || email == nil {
		return
	}
	// Copy to avoid races with the caller
	emailCopy := &Email{
		To:       append([]string{}, email.To...),
		Subject:  email.Subject,
		HTMLBody: email.HTMLBody,
		TextBody: email.TextBody,
	}

	go func(email *Email) {
		if err := m.Send(email); err != nil {
			zap.S().Errorw("failed to send async email", "to", email.To, "subject", email.Subject, "error", err)
		}
	}(emailCopy)
}

type emailTemplate struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func newEmailTemplate(name, html, text string) emailTemplate {
	return emailTemplate{
		html: htmltemplate.Must(htmltemplate.New(name).Parse(html)),
		text: texttemplate.Must(texttemplate.New(name).Parse(text)),
	}
}

func (t emailTemplate) render(to, subject string, data interface{}) *Email {
	email := &Email{To: []string{to}, Subject: subject}

	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		zap.S().Errorw("failed to render html email", "template", t.html.Name(), "error", err)
	} else {
		email.HTMLBody = html.String()
	}
	if err := t.text.Execute(&text, data); err != nil {
		zap.S().Errorw("failed to render text email", "template", t.text.Name(), "error", err)
	} else {
		email.TextBody = text.String()
	}
	return email
}

// DSAREmailData is the common template data for requester emails
type DSAREmailData struct {
	RequesterName string
	RequestID     string
	RequestType   string
	Status        string
	PreviousState string
	DueDate       string
	Link          string
	Code          string
	ExpiresIn     string
	Details       string
}

var receiptTemplate = newEmailTemplate("dsar_receipt",
	`<p>Hello {{.RequesterName}},</p>
<p>We received your data subject request <strong>{{.RequestID}}</strong> ({{.RequestType}}).</p>
<p>We will respond by <strong>{{.DueDate}}</strong>.</p>
{{if .Link}}<p><a href="{{.Link}}">Track your request</a></p>{{end}}`,
	`Hello {{.RequesterName}},

We received your data subject request {{.RequestID}} ({{.RequestType}}).
We will respond by {{.DueDate}}.
{{if .Link}}
Track your request: {{.Link}}
{{end}}`)

var statusTemplate = newEmailTemplate("dsar_status",
	`<p>Hello {{.RequesterName}},</p>
<p>The status of your request <strong>{{.RequestID}}</strong> changed from {{.PreviousState}} to <strong>{{.Status}}</strong>.</p>
{{if .Details}}<p>{{.Details}}</p>{{end}}
{{if .Link}}<p><a href="{{.Link}}">View your request</a></p>{{end}}`,
	`Hello {{.RequesterName}},

The status of your request {{.RequestID}} changed from {{.PreviousState}} to {{.Status}}.
{{if .Details}}
{{.Details}}
{{end}}{{if .Link}}
View your request: {{.Link}}
{{end}}`)

var verificationTemplate = newEmailTemplate("dsar_verification",
	`<p>Hello {{.RequesterName}},</p>
<p>Your verification code for request <strong>{{.RequestID}}</strong> is:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.ExpiresIn}}.</p>`,
	`Hello {{.RequesterName}},

Your verification code for request {{.RequestID}} is: {{.Code}}
The code expires in {{.ExpiresIn}}.
`)

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func requestLink(appURL, requestID string) string {
	if appURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/dsar/%s", strings.TrimSuffix(appURL, "/"), requestID)
}

// BuildReceiptEmail confirms a new request to the requester
func BuildReceiptEmail(e Event, requestType string, dueDate time.Time, appURL string) *Email {
	data := DSAREmailData{
		RequesterName: displayName(e.RequesterName),
		RequestID:     e.RequestID,
		RequestType:   humanize(requestType),
		DueDate:       dueDate.Format("January 2, 2006"),
		Link:          requestLink(appURL, e.RequestID),
	}
	return receiptTemplate.render(e.RequesterEmail, fmt.Sprintf("We received your request %s", e.RequestID), data)
}

// BuildStatusChangeEmail tells the requester their request moved
func BuildStatusChangeEmail(e Event, details, appURL string) *Email {
	data := DSAREmailData{
		RequesterName: displayName(e.RequesterName),
		RequestID:     e.RequestID,
		Status:        humanize(string(e.ToStatus)),
		PreviousState: humanize(string(e.FromStatus)),
		Details:       details,
		Link:          requestLink(appURL, e.RequestID),
	}
	return statusTemplate.render(e.RequesterEmail, fmt.Sprintf("Your request %s is now %s", e.RequestID, data.Status), data)
}

// BuildVerificationCodeEmail sends a one-time identity verification code
func BuildVerificationCodeEmail(r *models.DSARRequest, code string, ttl time.Duration) *Email {
	data := DSAREmailData{
		RequesterName: displayName(r.RequesterName),
		RequestID:     r.RequestID,
		Code:          code,
		ExpiresIn:     fmt.Sprintf("%d minutes", int(ttl.Minutes())),
	}
	return verificationTemplate.render(r.RequesterEmail, fmt.Sprintf("Verification code for %s", r.RequestID), data)
}
