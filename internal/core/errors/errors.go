package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpUnknownFunctionError  = "unknown_function"
	HttpInvalidArgumentsError = "invalid_arguments"
	HttpRefreshBusyError      = "refresh_in_progress"
	HttpRefreshFailedError    = "refresh_failed"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
