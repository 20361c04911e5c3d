package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/example/ride-dispatch/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindUpstream:      http.StatusBadGateway,
	apperr.KindNoCapacity:    http.StatusServiceUnavailable,
	apperr.KindInvalidAction: http.StatusConflict,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindUnauthorized:  http.StatusUnauthorized,
	apperr.KindInternal:      http.StatusInternalServerError,
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      apperr.Kind `json:"kind"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	RequestID string      `json:"request_id,omitempty"`
}

func statusOf(kind apperr.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status := statusOf(e.Kind)
	rid := requestIDFromContext(r.Context())
	if status >= 500 && e.Kind != apperr.KindNoCapacity {
		args := []any{"route", routeTemplate(r), "kind", e.Kind, "error", err}
		if rid != "" {
			args = append(args, "request_id", rid)
		}
		s.logger.Error("request failed", args...)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:      e.Kind,
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		RequestID: rid,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
