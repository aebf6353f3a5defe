package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

const maxBodyBytes = 1_048_576

// ErrorResponse writes a standard JSON error response including request ID.
func ErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	WriteJSONResponse(w, r, status, map[string]interface{}{
		"success":    false,
		"error":      message,
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidCity):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict), errors.Is(err, types.ErrPreconditionFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSONResponse encodes data and writes it with the given status.
// A nil data value is written as JSON null.
func WriteJSONResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	js, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to marshal JSON response",
			slog.Any("error", err),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(js); err != nil {
		slog.ErrorContext(r.Context(), "Failed to write response body",
			slog.Any("error", err),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
}

// DecodeJSONBody decodes a single JSON value from the request body.
// An empty body leaves dst untouched and is not an error.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &syntaxError):
			return fmt.Errorf("%w: badly-formed JSON at character %d", types.ErrInvalidCity, syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%w: badly-formed JSON", types.ErrInvalidCity)
		case errors.As(err, &unmarshalTypeError):
			return fmt.Errorf("%w: incorrect JSON type at character %d", types.ErrInvalidCity, unmarshalTypeError.Offset)
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("%w: body must not be larger than %d bytes", types.ErrInvalidCity, maxBytesError.Limit)
		case errors.Is(err, types.ErrInvalidCity):
			return err
		default:
			return fmt.Errorf("error decoding JSON body: %w", err)
		}
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must only contain a single JSON value", types.ErrInvalidCity)
	}
	return nil
}
