package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/zkchat/zkauth/auth"
)

const maxAuthBodySize = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

// writeInternalError logs the cause and returns a generic 500.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// mapError translates auth sentinels into a status and a fixed message.
// Malformed and invalid proofs share one response.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateAccount):
		writeError(w, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, "unknown account")
	case errors.Is(err, auth.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown session")
	case errors.Is(err, auth.ErrAlreadyAuthenticated):
		writeError(w, http.StatusConflict, "session already authenticated")
	case errors.Is(err, auth.ErrNoChallengeIssued):
		writeError(w, http.StatusConflict, "no challenge issued")
	case errors.Is(err, auth.ErrMalformedProof), errors.Is(err, auth.ErrInvalidProof):
		writeError(w, http.StatusUnauthorized, "invalid proof")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	default:
		writeInternalError(w, "request failed", err)
	}
}

// decodeJSON reads a single JSON object of type T. Unknown fields, trailing
// data and oversized bodies are rejected with 400.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", describeDecodeError(err)))
		return v, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body: trailing data")
		return v, false
	}
	return v, true
}

func describeDecodeError(err error) string {
	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxErr):
		return "body too large"
	case errors.As(err, &syntaxErr):
		return "malformed JSON"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	case errors.Is(err, io.EOF):
		return "empty body"
	default:
		// DisallowUnknownFields reports `json: unknown field "x"`.
		return err.Error()
	}
}
