package hubapi

import "github.com/synapsehub/hub/internal/apierr"

// APIError is the control plane's typed error: an error-kind code plus a
// message. handleExecute does not serialize it; it reports Message as the
// "error" field of the content envelope, next to the echoed tool and
// arguments.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

// UnknownToolCode is the error code name for a tool name that is not
// registered (spec §4.1). Nothing returns it: the dispatcher reports
// that case as *ErrUnknownTool, which handleExecute answers with HTTP 400.
const UnknownToolCode = "UNKNOWN_TOOL"

// MapError translates a domain error into the control plane's error
// envelope. Errors not carrying an apierr.Kind map to a generic
// INTERNAL code.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	if kind, ok := apierr.KindOf(err); ok {
		return &APIError{Code: string(kind), Message: err.Error()}
	}
	return &APIError{Code: "INTERNAL", Message: err.Error()}
}
