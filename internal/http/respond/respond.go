// Package respond writes JSON responses and the read API error envelope.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Machine-readable error codes.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeAuthFailed    = "AUTH_FAILED"
	CodeTimeout       = "TIMEOUT"
	CodeInternalError = "INTERNAL_ERROR"
	CodeBadRequest    = "BAD_REQUEST"
	CodeRateLimited   = "RATE_LIMITED"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the body of every read API error.
type ErrorEnvelope struct {
	Status string    `json:"status"`
	Error  ErrorBody `json:"error"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorEnvelope{
		Status: "error",
		Error:  ErrorBody{Code: code, Message: message},
	})
}

// FromError writes the envelope for err. Errors matching one of notFound map
// to 404 NOT_FOUND, deadline errors to 504 TIMEOUT and everything else to 500
// INTERNAL_ERROR with a generic message.
func FromError(w http.ResponseWriter, err error, notFound ...error) {
	for _, target := range notFound {
		if errors.Is(err, target) {
			Error(w, http.StatusNotFound, CodeNotFound, target.Error())
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		Error(w, http.StatusGatewayTimeout, CodeTimeout, "storage did not respond in time")
		return
	}
	Error(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
