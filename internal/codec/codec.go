package codec

import (
	"fmt"
	"net/http"
)

// DecodeError is a request the gateway cannot interpret. It is reported to
// the client with StatusCode, unlike provider failures which travel as
// assistant content.
type DecodeError struct {
	StatusCode int
	Message    string
}

func (e *DecodeError) Error() string {
	return e.Message
}

func badRequest(format string, args ...any) *DecodeError {
	return &DecodeError{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}
