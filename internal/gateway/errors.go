package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorCode is a provider error code. Codes outside the known set decode to
// CodeUnknown with the original value kept in ErrorDetail.RawCode.
type ErrorCode string

const (
	CodeInvalidCreditCard  ErrorCode = "invalid_creditCard"
	CodeInvalidValue       ErrorCode = "invalid_value"
	CodeInvalidCustomer    ErrorCode = "invalid_customer"
	CodeInvalidBillingType ErrorCode = "invalid_billingType"
	CodeInvalidDueDate     ErrorCode = "invalid_dueDate"
	CodeInvalidAction      ErrorCode = "invalid_action"
	CodeInvalidAccessToken ErrorCode = "invalid_access_token"
	CodeUnknown            ErrorCode = "unknown"
)

var knownCodes = map[ErrorCode]struct{}{
	CodeInvalidCreditCard:  {},
	CodeInvalidValue:       {},
	CodeInvalidCustomer:    {},
	CodeInvalidBillingType: {},
	CodeInvalidDueDate:     {},
	CodeInvalidAction:      {},
	CodeInvalidAccessToken: {},
}

type ErrorDetail struct {
	Code        ErrorCode
	RawCode     string
	Description string
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Details    []ErrorDetail
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("gateway status %d", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.RawCode, d.Description))
	}
	return fmt.Sprintf("gateway status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

// Code returns the first known code, falling back to CodeUnknown.
func (e *APIError) Code() ErrorCode {
	for _, d := range e.Details {
		if d.Code != CodeUnknown {
			return d.Code
		}
	}
	return CodeUnknown
}

func (e *APIError) Has(code ErrorCode) bool {
	for _, d := range e.Details {
		if d.Code == code {
			return true
		}
	}
	return false
}

// decodeAPIError never fails: malformed or missing fields become defaults.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Errors []struct {
			Code        *string `json:"code"`
			Description *string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}

	for _, item := range payload.Errors {
		detail := ErrorDetail{Code: CodeUnknown}
		if item.Code != nil {
			detail.RawCode = *item.Code
			if _, ok := knownCodes[ErrorCode(*item.Code)]; ok {
				detail.Code = ErrorCode(*item.Code)
			}
		}
		if item.Description != nil {
			detail.Description = *item.Description
		}
		apiErr.Details = append(apiErr.Details, detail)
	}
	return apiErr
}
