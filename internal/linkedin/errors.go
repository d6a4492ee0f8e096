package linkedin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FailureCode is the closed set of OAuth-exchange outcomes surfaced to users.
// Keeping it an enum (instead of scattered string comparisons) makes the
// message mapping exhaustive and testable.
type FailureCode string

const (
	FailureInvalidClient FailureCode = "invalid_client"
	FailureInvalidGrant  FailureCode = "invalid_grant"
	FailureTimeout       FailureCode = "timeout"
	FailureAPI           FailureCode = "api_error"
)

// ExchangeError carries the provider's raw error payload plus our
// classification of it.
type ExchangeError struct {
	Code        FailureCode
	ProviderErr string // provider "error" field, verbatim
	Description string // provider "error_description" field, verbatim
	Status      int
	Body        []byte
}

func (e *ExchangeError) Error() string {
	if e.ProviderErr != "" {
		return fmt.Sprintf("linkedin oauth %s: %s (status %d)", e.ProviderErr, e.Description, e.Status)
	}
	return fmt.Sprintf("linkedin oauth %s (status %d)", e.Code, e.Status)
}

// UserMessage maps the failure onto the human-readable text the browser is
// redirected with.
func (e *ExchangeError) UserMessage() string {
	switch e.Code {
	case FailureInvalidClient:
		return "Invalid LinkedIn client credentials."
	case FailureInvalidGrant:
		return "Authorization code expired or parameters mismatch. Please try again."
	case FailureTimeout:
		return "LinkedIn did not respond in time. Please try again."
	default:
		if e.Description != "" {
			return e.Description
		}
		if e.ProviderErr != "" {
			return fmt.Sprintf("LinkedIn API error: %s", e.ProviderErr)
		}
		return "Authentication failed"
	}
}

// exchangeErrorFromBody classifies a non-2xx provider response. LinkedIn
// reports OAuth failures as {"error": "...", "error_description": "..."}.
func exchangeErrorFromBody(status int, body []byte) *ExchangeError {
	e := &ExchangeError{Code: FailureAPI, Status: status, Body: body}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.ProviderErr = strings.TrimSpace(payload.Error)
		e.Description = strings.TrimSpace(payload.ErrorDescription)
		if e.Description == "" {
			e.Description = strings.TrimSpace(payload.Message)
		}
	}
	switch e.ProviderErr {
	case "invalid_client":
		e.Code = FailureInvalidClient
	case "invalid_grant", "invalid_request":
		e.Code = FailureInvalidGrant
	}
	return e
}
