package services

import (
	"context"
	"testing"
	"time"

	"consenthub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFixedCode(t *testing.T, code string) {
	t.Helper()
	original := generateVerificationCode
	generateVerificationCode = func(n int) (string, error) { return code, nil }
	t.Cleanup(func() { generateVerificationCode = original })
}

func TestEmailCodeVerification(t *testing.T) {
	withFixedCode(t, "482913")
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.submit(t)

	r, err := env.Service.StartVerification(ctx, r.RequestID, testActor)
	require.NoError(t, err)
	assert.Equal(t, VerificationMethodEmailCode, r.VerificationMethod)
	assert.NotEmpty(t, r.VerificationCodeHash)
	assert.NotEqual(t, "482913", r.VerificationCodeHash)

	assert.Eventually(t, func() bool {
		for _, e := range env.Mailer.Sent() {
			if e.To[0] == "alice@example.com" && e.Subject == "Verification code for "+r.RequestID {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	t.Run("Wrong code counts an attempt", func(t *testing.T) {
		updated, err := env.Service.ConfirmVerification(ctx, r.RequestID, "000000", Actor{Email: "alice@example.com"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.NotNil(t, updated)
		assert.Equal(t, 1, updated.VerificationAttempts)
		assert.Equal(t, models.VerificationPending, updated.VerificationStatus)
	})

	t.Run("Correct code verifies", func(t *testing.T) {
		updated, err := env.Service.ConfirmVerification(ctx, r.RequestID, " 482913 ", Actor{Email: "alice@example.com"})
		require.NoError(t, err)
		assert.Equal(t, models.VerificationVerified, updated.VerificationStatus)
		assert.Equal(t, VerificationMethodEmailCode, updated.VerifiedBy)
		assert.NotNil(t, updated.VerifiedAt)
		assert.Empty(t, updated.VerificationCodeHash)
		assert.Contains(t, env.Events.Types(), EventDSARVerified)
	})

	t.Run("Cannot restart once verified", func(t *testing.T) {
		_, err := env.Service.StartVerification(ctx, r.RequestID, testActor)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestVerificationLockout(t *testing.T) {
	withFixedCode(t, "111111")
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.submit(t)

	_, err := env.Service.StartVerification(ctx, r.RequestID, testActor)
	require.NoError(t, err)

	var updated *models.DSARRequest
	for i := 0; i < MaxVerificationAttempts; i++ {
		updated, err = env.Service.ConfirmVerification(ctx, r.RequestID, "999999", SystemActor)
		require.Error(t, err)
	}
	assert.Equal(t, models.VerificationFailed, updated.VerificationStatus)

	_, err = env.Service.ConfirmVerification(ctx, r.RequestID, "111111", SystemActor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "no verification in progress", verr.Message)
}

func TestVerificationExpiry(t *testing.T) {
	withFixedCode(t, "222222")
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.submit(t)

	_, err := env.Service.StartVerification(ctx, r.RequestID, testActor)
	require.NoError(t, err)

	env.Clock.Advance(VerificationCodeTTL + time.Second)
	_, err = env.Service.ConfirmVerification(ctx, r.RequestID, "222222", SystemActor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["code"], "expired")
}

func TestSetVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.submit(t)

	r, err := env.Service.SetVerification(ctx, r.RequestID, VerificationUpdate{
		Status: models.VerificationVerified,
		Method: "document_check",
	}, testActor)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, r.VerificationStatus)
	assert.Equal(t, "document_check", r.VerificationMethod)
	assert.Equal(t, testActor.Label(), r.VerifiedBy)
	assert.Equal(t, "Verification set to verified", r.ProcessingNotes[0].Note)
	require.NotNil(t, r.VerifiedAt)

	r, err = env.Service.SetVerification(ctx, r.RequestID, VerificationUpdate{Status: models.VerificationFailed}, testActor)
	require.NoError(t, err)
	assert.Nil(t, r.VerifiedAt)
	assert.Empty(t, r.VerifiedBy)

	fetched, err := env.Service.Get(ctx, r.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationFailed, fetched.VerificationStatus)
	assert.Nil(t, fetched.VerifiedAt)
	assert.Empty(t, fetched.VerifiedBy)

	_, err = env.Service.SetVerification(ctx, r.RequestID, VerificationUpdate{Status: "maybe"}, testActor)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
