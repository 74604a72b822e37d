package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cryptostake/platform/pkg/auth"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// errUnauthenticated marks a missing, malformed, or expired bearer token,
// or a token whose user no longer exists — all collapse to 401 without
// distinguishing which, to avoid leaking which check failed.
var errUnauthenticated = errors.New("unauthenticated")

// apiError is the uniform error envelope every non-2xx response carries.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusForError(err)
	resp := apiError{Error: err.Error()}
	var rejection *domain.DomainRejection
	if errors.As(err, &rejection) {
		resp.Code = rejection.Code
	}
	writeJSON(w, status, resp)
}

// statusForError extends auth.StatusForError with the store- and
// domain-level sentinels every repository and engine returns.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrCASFailed):
		return http.StatusConflict
	case errors.Is(err, auth.ErrPasswordMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	}
	var rejection *domain.DomainRejection
	if errors.As(err, &rejection) {
		return http.StatusBadRequest
	}
	var verr *validationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errValidation("malformed request body: " + err.Error())
	}
	return nil
}
