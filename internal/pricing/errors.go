package pricing

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a quote failure for callers.
type ErrorCode string

const (
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeInvalidCondition   ErrorCode = "invalid_condition"
	CodePricingUnavailable ErrorCode = "pricing_unavailable"
)

// QuoteError is a recoverable, user-facing quote failure.
type QuoteError struct {
	Code    ErrorCode
	Message string
}

func (e *QuoteError) Error() string { return e.Message }

func invalidCondition(condition string) error {
	return &QuoteError{Code: CodeInvalidCondition, Message: fmt.Sprintf("Invalid condition: %s", condition)}
}

func pricingUnavailable(format string, args ...any) error {
	return &QuoteError{Code: CodePricingUnavailable, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the QuoteError code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsPricingUnavailable reports whether err is a lookup miss.
func IsPricingUnavailable(err error) bool { return CodeOf(err) == CodePricingUnavailable }

// IsInvalidCondition reports whether err is an unrecognised condition.
func IsInvalidCondition(err error) bool { return CodeOf(err) == CodeInvalidCondition }
