package security

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyHMAC(t *testing.T) {
	t.Parallel()
	const secret = "test-secret"
	now := strconv.FormatInt(time.Now().Unix(), 10)

	sig := Sign(secret, "POST", "/admin/reports", `{"format":"csv"}`, now)
	require.NoError(t, VerifyHMAC(secret, "POST", "/admin/reports", `{"format":"csv"}`, now, sig))

	assert.ErrorIs(t,
		VerifyHMAC(secret, "POST", "/admin/reports", `{"format":"json"}`, now, sig),
		ErrInvalidSignature, "tampered body must fail")

	assert.ErrorIs(t,
		VerifyHMAC(secret, "GET", "/admin/reports", `{"format":"csv"}`, now, sig),
		ErrInvalidSignature, "different method must fail")

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	staleSig := Sign(secret, "POST", "/admin/reports", "", stale)
	assert.ErrorIs(t,
		VerifyHMAC(secret, "POST", "/admin/reports", "", stale, staleSig),
		ErrRequestExpired)

	assert.Error(t, VerifyHMAC(secret, "POST", "/admin/reports", "", "not-a-number", sig))

	assert.NoError(t, VerifyHMAC("", "POST", "/admin/reports", "", "junk", "junk"),
		"empty secret disables verification")
}

func TestValidateFileID(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateFileID("3e8f6a4e-0a4e-4a2e-9f64-6b8b7a3d1c55"))

	for _, id := range []string{"", "42", "../etc/passwd", "3e8f6a4e-0a4e"} {
		assert.ErrorIs(t, ValidateFileID(id), ErrInvalidFileID, id)
	}
}

func TestValidateFilename(t *testing.T) {
	t.Parallel()

	valid := []string{"report.pdf", "photo (1).jpg", "data_2026-08.csv", "ärenden.txt"}
	for _, name := range valid {
		assert.NoError(t, ValidateFilename(name), name)
	}

	invalid := []string{
		"",
		"../secret",
		"a/b.txt",
		"a\\b.txt",
		"evil\r\nContent-Type: text/html",
		"nul\x00byte",
		`quote".txt`,
		"..",
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateFilename(name), ErrInvalidFilename, name)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateEmail("ops@example.com"))
	assert.ErrorIs(t, ValidateEmail("no-at-sign"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidateEmail("evil@example.com\r\nBcc: other@x.com"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidateEmail("x@y."), ErrInvalidEmail)
}
