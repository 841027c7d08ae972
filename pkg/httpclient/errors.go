package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
)

// maxErrorBody bounds how much of an unstructured error body is quoted.
const maxErrorBody = 512

// errorBody accepts both error envelopes seen downstream: the REST
// envelope written by pkg/httputil and the GraphQL errors array.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

func (b errorBody) codeAndMessage() (code, message string, ok bool) {
	switch {
	case b.Error != nil:
		return b.Error.Code, b.Error.Message, true
	case len(b.Errors) > 0:
		return b.Errors[0].Extensions.Code, b.Errors[0].Message, true
	default:
		return "", "", false
	}
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an application error keyed on the status code. The body is consumed
// and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d, body unreadable: %w", serviceName, resp.StatusCode, err)
	}

	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		if code, message, ok := body.codeAndMessage(); ok {
			return statusError(resp.StatusCode, code, message, serviceName)
		}
	}

	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return statusError(resp.StatusCode, "", text, serviceName)
}

func statusError(status int, code, message, serviceName string) error {
	qualified := serviceName + ": " + message

	switch status {
	case http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case http.StatusConflict:
		return apperrors.Conflict(qualified)
	case http.StatusGone:
		return apperrors.Gone(qualified)
	case http.StatusTooManyRequests:
		return apperrors.RateLimited(qualified)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.ServiceUnavailable(serviceName, fmt.Errorf("status %d: %s", status, message))
	}

	if status >= 500 {
		if code == "" {
			return fmt.Errorf("%s server error (%d): %s", serviceName, status, message)
		}
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	}
	if code == "" {
		code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apperrors.AppError{Code: code, Message: qualified, Status: status}
}
