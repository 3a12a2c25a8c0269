package domain

import "strings"

// ProviderOutcome is our reading of a provider transaction status.
type ProviderOutcome string

const (
	ProviderSuccess ProviderOutcome = "SUCCESS"
	ProviderFailure ProviderOutcome = "FAILURE"
	ProviderUnknown ProviderOutcome = "UNKNOWN"
)

var providerFailureTokens = []string{"FAIL", "EXPIRE", "CANCEL", "REJECT"}

// InterpretProviderStatus classifies the status and message fields of a
// transaction status response. The provider vocabulary is not fixed, so the
// match is a case-insensitive substring search. Only Success settles a
// payment as paid.
func InterpretProviderStatus(status, message string) ProviderOutcome {
	s := strings.ToUpper(status)
	m := strings.ToUpper(message)

	if strings.Contains(s, "SUCCESS") || strings.Contains(m, "SUCCESS") {
		return ProviderSuccess
	}
	for _, token := range providerFailureTokens {
		if strings.Contains(s, token) || strings.Contains(m, token) {
			return ProviderFailure
		}
	}
	return ProviderUnknown
}

// IsSuccess reports whether the outcome settles the payment as paid.
func (o ProviderOutcome) IsSuccess() bool {
	return o == ProviderSuccess
}
