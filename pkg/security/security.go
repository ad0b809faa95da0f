// Package security holds the input limits the engine enforces at its
// boundaries: identifier validation, error text sanitization and the
// hard clamps on retry and pool sizes.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/conveyorhq/conveyor/pkg/core"
)

const (
	MaxJobClassLength  = 255
	MaxQueueNameLength = 255

	// MaxConcurrencyKeyLength matches the column size; keys are
	// caller-chosen opaque strings and only their length is checked.
	MaxConcurrencyKeyLength = 255

	// MaxParametersSize caps encoded job parameters at 1MB.
	MaxParametersSize = 1 << 20

	MaxRetries            = 100
	MaxProcesses          = 1000
	MaxErrorMessageLength = 8192
)

// Job classes and queue names share one shape: a letter followed by
// word characters, dots, dashes or slashes.
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\./]*$`)

// ValidateJobClass checks a registry class name.
func ValidateJobClass(name string) error {
	switch {
	case len(name) > MaxJobClassLength:
		return core.ErrJobClassTooLong
	case !validName.MatchString(name):
		return core.ErrInvalidJobClass
	}
	return nil
}

// ValidateQueueName checks a queue name.
func ValidateQueueName(name string) error {
	switch {
	case len(name) > MaxQueueNameLength:
		return core.ErrQueueNameTooLong
	case !validName.MatchString(name):
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateConcurrencyKey checks a concurrency key. Empty means no key.
func ValidateConcurrencyKey(key string) error {
	if len(key) > MaxConcurrencyKeyLength {
		return core.ErrConcurrencyKeyTooLong
	}
	return nil
}

// SanitizeErrorMessage strips control characters other than
// newline/tab from error text and truncates it to
// MaxErrorMessageLength runes before storage.
func SanitizeErrorMessage(msg string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return r
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, msg)

	if utf8.RuneCountInString(clean) > MaxErrorMessageLength {
		runes := []rune(clean)
		clean = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return clean
}

// ClampRetries bounds a retry budget to [0, MaxRetries].
func ClampRetries(n int) int {
	return max(0, min(n, MaxRetries))
}

// ClampProcesses bounds an executor pool size to [1, MaxProcesses].
func ClampProcesses(n int) int {
	return max(1, min(n, MaxProcesses))
}
