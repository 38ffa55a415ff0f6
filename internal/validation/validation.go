// Package validation provides input validation helpers for the Clearhold API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearhold/clearhold/internal/amount"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxPrincipalLength bounds principal identifiers. Principals are opaque,
// application-stable identifiers (wallet addresses, account IDs, service
// names) — the platform does not impose a network-address format.
const MaxPrincipalLength = 128

// MaxMetadataLength bounds free-form metadata strings.
const MaxMetadataLength = 2048

// principalRegex admits printable identifier characters only.
var principalRegex = regexp.MustCompile(`^[a-zA-Z0-9:_\-\.@]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPrincipal checks whether a string is usable as a principal identity.
func IsValidPrincipal(p string) bool {
	if p == "" || len(p) > MaxPrincipalLength {
		return false
	}
	return principalRegex.MatchString(p)
}

// SanitizeString trims whitespace, limits length, and strips null bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidPrincipal checks that a field is a well-formed principal identity.
// Empty values pass; combine with Required for required fields.
func ValidPrincipal(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidPrincipal(value) {
			return &ValidationError{Field: field, Message: "must be a valid principal identifier"}
		}
		return nil
	}
}

// ValidAmount checks that a field parses to a strictly positive amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !amount.IsPositive(value) {
			return &ValidationError{Field: field, Message: "must be a positive decimal amount"}
		}
		return nil
	}
}

// ValidBips checks that a fee rate is within [0, 10000) basis points.
func ValidBips(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 || value >= 10000 {
			return &ValidationError{Field: field, Message: "must be in [0, 10000) basis points"}
		}
		return nil
	}
}
