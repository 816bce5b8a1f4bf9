package services

import (
	"testing"
	"time"

	"consenthub/config"
	"consenthub/models"

	"github.com/stretchr/testify/assert"
)

func TestSendEmail(t *testing.T) {
	email := &Email{To: []string{"alice@example.com"}, Subject: "Hello", TextBody: "Hi"}

	t.Run("Test mode logs instead of sending", func(t *testing.T) {
		assert.NoError(t, SendEmail(&config.Config{EmailTestMode: true}, email))
	})

	t.Run("Missing API key", func(t *testing.T) {
		err := SendEmail(&config.Config{}, email)
		assert.EqualError(t, err, "RESEND_API_KEY not configured")
	})

	t.Run("Sender wraps config", func(t *testing.T) {
		sender := NewEmailSender(&config.Config{EmailTestMode: true})
		assert.NoError(t, sender.Send(email))
	})
}

func TestBuildReceiptEmail(t *testing.T) {
	due := time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC)
	e := Event{RequestID: "DSAR-1-ABCDEF", RequesterEmail: "alice@example.com"}

	email := BuildReceiptEmail(e, "data_erasure", due, "https://privacy.example.com/")
	assert.Equal(t, []string{"alice@example.com"}, email.To)
	assert.Equal(t, "We received your request DSAR-1-ABCDEF", email.Subject)
	assert.Contains(t, email.TextBody, "Hello there,")
	assert.Contains(t, email.TextBody, "(data erasure)")
	assert.Contains(t, email.TextBody, "March 31, 2024")
	assert.Contains(t, email.HTMLBody, `href="https://privacy.example.com/dsar/DSAR-1-ABCDEF"`)
}

func TestBuildStatusChangeEmail(t *testing.T) {
	e := Event{
		RequestID:      "DSAR-1-ABCDEF",
		RequesterEmail: "alice@example.com",
		RequesterName:  "Alice <b>",
		FromStatus:     models.DSARStatusPending,
		ToStatus:       models.DSARStatusInProgress,
	}

	email := BuildStatusChangeEmail(e, "Work has started.", "")
	assert.Equal(t, "Your request DSAR-1-ABCDEF is now in progress", email.Subject)
	assert.Contains(t, email.TextBody, "changed from pending to in progress")
	assert.Contains(t, email.TextBody, "Work has started.")
	assert.NotContains(t, email.TextBody, "View your request")
	assert.Contains(t, email.HTMLBody, "Alice &lt;b&gt;", "html body escapes names")
}

func TestBuildVerificationCodeEmail(t *testing.T) {
	r := &models.DSARRequest{RequestID: "DSAR-1-ABCDEF", RequesterEmail: "alice@example.com", RequesterName: "Alice"}

	email := BuildVerificationCodeEmail(r, "123456", 15*time.Minute)
	assert.Contains(t, email.TextBody, "123456")
	assert.Contains(t, email.TextBody, "15 minutes")
	assert.Contains(t, email.HTMLBody, "Hello Alice,")
}
