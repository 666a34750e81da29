package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

var (
	// ErrInvalidAddress is returned for recipient addresses that fail the syntax check
	ErrInvalidAddress = errors.New("invalid recipient address")

	// ErrConfigurationMissing is returned when no relay settings are stored
	ErrConfigurationMissing = errors.New("smtp settings not configured")
)

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	// Code is the SMTP reply code, 0 when the failure happened below SMTP
	Code    int
	Stage   string
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	return e.Message
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if an SMTP error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	de := &DeliveryError{
		Temporary: true,
		Stage:     stage,
		Message:   fmt.Sprintf("%s failed: %v", stage, err),
		Err:       err,
	}

	var se *smtp.SMTPError
	if errors.As(err, &se) {
		de.Code = se.Code
		de.Temporary = se.Code < 500
		return de
	}

	if matches := smtpCodePattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		de.Temporary = strings.HasPrefix(matches[1], "4")
		fmt.Sscanf(matches[1], "%d", &de.Code)
	}
	return de
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return !errors.Is(err, ErrInvalidAddress) && !errors.Is(err, ErrConfigurationMissing)
}

// ErrorType returns a low-cardinality label for a send failure
func ErrorType(err error) string {
	var (
		de *DeliveryError
		ne net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &de) && de.Code >= 500:
		return "rejected"
	case errors.As(err, &de) && de.Code >= 400:
		return "deferred"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	default:
		return "connection"
	}
}
