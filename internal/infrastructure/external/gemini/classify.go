package gemini

import (
	"errors"
	"net/http"
	"strings"

	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// Canonical status names and reasons used by the API.
const (
	statusUnauthenticated   = "UNAUTHENTICATED"
	statusPermissionDenied  = "PERMISSION_DENIED"
	statusResourceExhausted = "RESOURCE_EXHAUSTED"
	reasonAPIKeyInvalid     = "API_KEY_INVALID"
)

// User-facing messages for each failure kind.
const (
	msgCredential = "Invalid API key. Please check GOOGLE_API_KEY"
	msgQuota      = "Rate limit or quota exceeded"
	msgExhausted  = "Free tier rate limit reached. Wait 60 seconds and try again, or upgrade your API plan"
	msgGeneric    = "Google Gemini API failed"
)

// Classify maps an endpoint failure to a DomainError of kind ErrCredential,
// ErrTransientQuota or ErrGenericFailure. Errors that already carry a kind
// are returned unchanged.
//
// An *APIError is classified from its HTTP status, canonical status and
// ErrorInfo reason. Message substrings are only consulted for untyped
// errors, such as a proxy answering with plain text.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var de *shared.DomainError
	if errors.As(err, &de) && de.Kind != nil {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatus == http.StatusUnauthorized,
			apiErr.HTTPStatus == http.StatusForbidden,
			apiErr.Status == statusUnauthenticated,
			apiErr.Status == statusPermissionDenied,
			apiErr.Reason == reasonAPIKeyInvalid:
			return shared.WrapError("gemini", "Generate", shared.ErrCredential, msgCredential, err)
		case apiErr.HTTPStatus == http.StatusTooManyRequests,
			apiErr.Status == statusResourceExhausted:
			return shared.WrapError("gemini", "Generate", shared.ErrTransientQuota, msgQuota, err)
		}
		return shared.WrapError("gemini", "Generate", shared.ErrGenericFailure, msgGeneric, err)
	}

	return classifyByMessage(err)
}

// classifyByMessage is the fallback for errors without structure.
func classifyByMessage(err error) error {
	upper := strings.ToUpper(err.Error())
	switch {
	case containsAny(upper, "API_KEY", "401", statusUnauthenticated):
		return shared.WrapError("gemini", "Generate", shared.ErrCredential, msgCredential, err)
	case containsAny(upper, "QUOTA", "RATE LIMIT", "429", statusResourceExhausted):
		return shared.WrapError("gemini", "Generate", shared.ErrTransientQuota, msgQuota, err)
	}
	return shared.WrapError("gemini", "Generate", shared.ErrGenericFailure, msgGeneric, err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
