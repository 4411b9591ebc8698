package rendezvous

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Kind classifies an API error so handlers can map it to the right HTTP
// status without duplicating that mapping at every call site.
type Kind int

const (
	Internal Kind = iota
	MalformedRequest
	Unauthorized
	Forbidden
	NotFound
	PollTimeout
	Conflict
)

// apiError is the error type every rendezvous handler returns.
type apiError struct {
	kind Kind
	msg  string
}

func (e *apiError) Error() string { return e.msg }

func errf(kind Kind, format string, args ...interface{}) *apiError {
	return &apiError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func statusFor(kind Kind) int {
	switch kind {
	case MalformedRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case PollTimeout:
		return http.StatusRequestTimeout
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to the spec's status codes and writes a small JSON
// body. Non-apiError values are treated as internal errors and logged,
// matching the teacher's "never leak internals to the client" posture.
func writeError(w http.ResponseWriter, err error) {
	ae, ok := err.(*apiError)
	if !ok {
		log.Printf("rendezvous: internal error: %v", err)
		ae = &apiError{kind: Internal, msg: "internal error"}
	}
	if ae.kind == Internal {
		log.Printf("rendezvous: internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(ae.kind))
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{ae.msg})
}
