package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medplan/medplan/internal/billing/domain"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type localized struct {
	fr string
	en string
}

// messages holds the user-facing text per error code.
var messages = map[string]localized{
	"unauthorized": {
		fr: "Authentification requise ou droits insuffisants.",
		en: "Authentication required or insufficient permissions.",
	},
	"subscription_not_found": {
		fr: "Aucun abonnement trouvé.",
		en: "No subscription found.",
	},
	"price_not_found": {
		fr: "Aucun tarif configuré pour cette offre.",
		en: "No price is configured for this plan.",
	},
	"not_found": {
		fr: "Ressource introuvable.",
		en: "Resource not found.",
	},
	"free_plan_not_renewable": {
		fr: "L'offre gratuite ne peut pas être renouvelée.",
		en: "The free plan cannot be renewed.",
	},
	"downgrade_to_free": {
		fr: "Impossible de repasser à l'offre gratuite.",
		en: "Cannot switch back to the free plan.",
	},
	"plan_already_active": {
		fr: "Cette offre est déjà active.",
		en: "This plan is already active.",
	},
	"checkout_in_progress": {
		fr: "Un paiement est déjà en cours pour cet abonnement.",
		en: "A payment is already in progress for this subscription.",
	},
	"too_many_months": {
		fr: "La durée demandée est trop longue.",
		en: "The requested duration is too long.",
	},
	"invalid_plan": {
		fr: "Offre inconnue.",
		en: "Unknown plan.",
	},
	"invalid_operation": {
		fr: "Opération non autorisée.",
		en: "Operation not allowed.",
	},
	"validation_failed": {
		fr: "Requête invalide.",
		en: "Invalid request.",
	},
	"bad_request": {
		fr: "Corps de requête illisible.",
		en: "Malformed request body.",
	},
	"provider_error": {
		fr: "Le service de paiement est indisponible. Réessayez plus tard.",
		en: "The payment service is unavailable. Please try again later.",
	},
	"internal_error": {
		fr: "Erreur interne.",
		en: "Internal error.",
	},
}

// classify maps an error to its HTTP status and message code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found"
	case errors.Is(err, domain.ErrPriceNotFound):
		return http.StatusNotFound, "price_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrFreePlanNotRenewable):
		return http.StatusUnprocessableEntity, "free_plan_not_renewable"
	case errors.Is(err, domain.ErrDowngradeToFree):
		return http.StatusUnprocessableEntity, "downgrade_to_free"
	case errors.Is(err, domain.ErrPlanAlreadyActive):
		return http.StatusUnprocessableEntity, "plan_already_active"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusUnprocessableEntity, "checkout_in_progress"
	case errors.Is(err, domain.ErrTooManyMonths):
		return http.StatusUnprocessableEntity, "too_many_months"
	case errors.Is(err, domain.ErrInvalidPlan):
		return http.StatusUnprocessableEntity, "invalid_plan"
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, "invalid_operation"
	case errors.Is(err, domain.ErrProviderError):
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// preferredLanguage picks en or fr from Accept-Language. French is the default.
func preferredLanguage(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		lang, _, _ := strings.Cut(strings.ToLower(tag), "-")
		switch lang {
		case "en", "fr":
			return lang
		}
	}
	return "fr"
}

func localize(r *http.Request, code string) string {
	m, ok := messages[code]
	if !ok {
		m = messages["internal_error"]
	}
	if preferredLanguage(r) == "en" {
		return m.en
	}
	return m.fr
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, fields map[string]string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: localize(r, code),
		Fields:  fields,
	})
}

// writeDomainError writes err using the error-kind mapping. Internal errors
// are logged and never echoed.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, r, status, code, nil)
}
