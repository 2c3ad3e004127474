package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jyllyver/ML-API/internal/model"
)

type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type codedError struct {
	err  error
	code int
	kind model.Kind
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedErrorf(code int, kind model.Kind, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code, kind: kind}
}

// translate maps a pipeline error to the status and body sent to the client.
// Server side faults are logged and get a generic message.
func translate(err error) (int, ErrorResponse) {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code, ErrorResponse{Message: cerr.Error(), ErrorKind: string(cerr.kind)}
	}

	var merr *model.Error
	if errors.As(err, &merr) {
		if merr.Kind.ClientFault() {
			return http.StatusBadRequest, ErrorResponse{Message: merr.Message, ErrorKind: string(merr.Kind)}
		}
		slog.Error("classification failed", "kind", merr.Kind, "error", err)
		return http.StatusInternalServerError, ErrorResponse{Message: "Prediction failed", ErrorKind: string(merr.Kind)}
	}

	slog.Error("recieved non coded error from endpoint", "error", err)
	return http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"}
}

// RestHandler adapts handler to an http.HandlerFunc, encoding its result or
// error as JSON.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			code, body := translate(err)
			WriteJsonResponse(w, code, body)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, http.StatusOK, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}
