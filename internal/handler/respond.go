package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/attaboy/checkout/internal/domain"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

type errorBody struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// RespondError writes a JSON error response, detecting domain.AppError for status codes.
// Internal errors never expose their cause.
func RespondError(w http.ResponseWriter, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) && appErr.Code != domain.CodeInternal {
		RespondJSON(w, appErr.Status, errorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, errorBody{
		Code:      domain.CodeInternal,
		Message:   "internal server error",
		Retryable: true,
	})
}

// DecodeJSON reads and decodes a JSON request body of at most 1MiB into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}
