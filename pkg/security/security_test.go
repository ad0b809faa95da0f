package security_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/security"
)

func TestValidateJobClass(t *testing.T) {
	valid := []string{"mail.send", "report-build", "a", "App/Jobs/Cleanup", "job_1"}
	for _, name := range valid {
		assert.NoError(t, security.ValidateJobClass(name), name)
	}

	assert.ErrorIs(t, security.ValidateJobClass(""), core.ErrInvalidJobClass)
	assert.ErrorIs(t, security.ValidateJobClass("1abc"), core.ErrInvalidJobClass)
	assert.ErrorIs(t, security.ValidateJobClass("has space"), core.ErrInvalidJobClass)
	assert.ErrorIs(t, security.ValidateJobClass("semi;colon"), core.ErrInvalidJobClass)
	assert.ErrorIs(t,
		security.ValidateJobClass("a"+strings.Repeat("b", security.MaxJobClassLength)),
		core.ErrJobClassTooLong)
}

func TestValidateQueueName(t *testing.T) {
	assert.NoError(t, security.ValidateQueueName("default"))
	assert.NoError(t, security.ValidateQueueName("high-priority"))

	assert.ErrorIs(t, security.ValidateQueueName(""), core.ErrInvalidQueueName)
	assert.ErrorIs(t, security.ValidateQueueName("bad name"), core.ErrInvalidQueueName)
	assert.ErrorIs(t,
		security.ValidateQueueName("q"+strings.Repeat("x", security.MaxQueueNameLength)),
		core.ErrQueueNameTooLong)
}

func TestValidateConcurrencyKey(t *testing.T) {
	assert.NoError(t, security.ValidateConcurrencyKey(""))
	assert.NoError(t, security.ValidateConcurrencyKey("tenant:42"))
	assert.ErrorIs(t,
		security.ValidateConcurrencyKey(strings.Repeat("k", security.MaxConcurrencyKeyLength+1)),
		core.ErrConcurrencyKeyTooLong)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", security.SanitizeErrorMessage(""))
	assert.Equal(t, "plain error", security.SanitizeErrorMessage("plain error"))

	// Control characters are stripped, newlines and tabs survive.
	assert.Equal(t, "ab", security.SanitizeErrorMessage("a\x00\x1bb"))
	assert.Equal(t, "line1\nline2\ttab", security.SanitizeErrorMessage("line1\nline2\ttab"))

	long := strings.Repeat("e", security.MaxErrorMessageLength*2)
	got := security.SanitizeErrorMessage(long)
	assert.Len(t, got, security.MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestClampRetries(t *testing.T) {
	assert.Equal(t, 0, security.ClampRetries(-5))
	assert.Equal(t, 3, security.ClampRetries(3))
	assert.Equal(t, security.MaxRetries, security.ClampRetries(security.MaxRetries+1))
}

func TestClampProcesses(t *testing.T) {
	assert.Equal(t, 1, security.ClampProcesses(0))
	assert.Equal(t, 10, security.ClampProcesses(10))
	assert.Equal(t, security.MaxProcesses, security.ClampProcesses(security.MaxProcesses*2))
}
