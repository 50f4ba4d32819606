package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
)

const maxRequestBodyBytes = 1 << 20

// ErrorResponse is the JSON envelope for every failed request.
type ErrorResponse struct {
	Error *svcerrors.ServiceError `json:"error"`
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err using the service error taxonomy. Errors outside the
// taxonomy become a generic 500 without internal detail.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerrors.FromError(err)
	if se.Code == svcerrors.CodeInternal {
		se = svcerrors.Internal(nil)
	}
	WriteJSON(w, se.HTTPStatus, ErrorResponse{Error: se})
}

// BadRequest writes a VALIDATION_ERROR with message.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, svcerrors.Validation("", message))
}

// NotFound writes a NOT_FOUND error for resource/id.
func NotFound(w http.ResponseWriter, resource, id string) {
	WriteError(w, svcerrors.NotFound(resource, id))
}

// DecodeJSON decodes a request body into v, rejecting unknown fields and oversized bodies.
func DecodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return svcerrors.Validation("body", "is required")
		}
		return svcerrors.Validation("body", fmt.Sprintf("invalid json: %v", err))
	}
	return nil
}
