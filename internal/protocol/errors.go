package protocol

import "net/http"

// W3C error codes carried in the "error" field of a failed response.
const (
	CodeSessionNotCreated      = "session not created"
	CodeInvalidSessionID       = "invalid session id"
	CodeNoSuchElement          = "no such element"
	CodeNoSuchWindow           = "no such window"
	CodeStaleElement           = "stale element reference"
	CodeElementNotInteractable = "element not interactable"
	CodeTimeout                = "timeout"
	CodeInvalidArgument        = "invalid argument"
	CodeInvalidSelector        = "invalid selector"
	CodeUnknownCommand         = "unknown command"
	CodeUnknownError           = "unknown error"
)

var codeStatus = map[string]int{
	CodeSessionNotCreated:      http.StatusInternalServerError,
	CodeInvalidSessionID:       http.StatusNotFound,
	CodeNoSuchElement:          http.StatusNotFound,
	CodeNoSuchWindow:           http.StatusNotFound,
	CodeStaleElement:           http.StatusNotFound,
	CodeElementNotInteractable: http.StatusBadRequest,
	CodeTimeout:                http.StatusInternalServerError,
	CodeInvalidArgument:        http.StatusBadRequest,
	CodeInvalidSelector:        http.StatusBadRequest,
	CodeUnknownCommand:         http.StatusNotFound,
	CodeUnknownError:           http.StatusInternalServerError,
}

// HTTPStatus returns the status an endpoint answers with for an error code.
func HTTPStatus(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
