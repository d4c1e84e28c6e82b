package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ai-notetaking-client/internal/dto"
)

// Outcome is one finished network attempt as seen by the classifier.
// StatusCode 0 means no response reached the client.
type Outcome struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (o Outcome) HasResponse() bool {
	return o.StatusCode != 0
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode <= 299
}

// Classify maps a failed attempt to exactly one Error:
// no response => Network, 401 => Authentication, 400/422 => Validation,
// anything else => API.
func Classify(o Outcome) *Error {
	if !o.HasResponse() {
		return NewNetworkError(o.Err)
	}

	envelope := decodeErrorEnvelope(o.Body)
	message := envelope.Message
	if message == "" {
		message = http.StatusText(o.StatusCode)
	}
	cause := fmt.Errorf("http status %d", o.StatusCode)

	switch o.StatusCode {
	case http.StatusUnauthorized:
		return NewAuthenticationError(o.StatusCode, message, cause)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewValidationError(o.StatusCode, message, envelope.Errors, cause)
	}

	code := envelope.Code
	if code == 0 {
		code = o.StatusCode
	}
	return NewAPIError(code, message, cause)
}

// decodeErrorEnvelope never fails: an unreadable body yields a zero envelope.
func decodeErrorEnvelope(body []byte) dto.ErrorResponse {
	var envelope dto.ErrorResponse
	if len(strings.TrimSpace(string(body))) == 0 {
		return envelope
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return dto.ErrorResponse{}
	}
	// Some handlers answer {"error": "..."} instead of the envelope.
	if envelope.Message == "" {
		var legacy struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &legacy) == nil {
			envelope.Message = legacy.Error
		}
	}
	return envelope
}
