package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/creditgate/internal/service"
)

type errorResponse struct {
	Error  service.Kind `json:"error"`
	Detail string       `json:"detail"`
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindAccountNotFound:
		return http.StatusNotFound
	case service.KindBadRequest:
		return http.StatusBadRequest
	case service.KindQuotaExceeded, service.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case service.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case service.KindUpstreamError:
		return http.StatusBadGateway
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"path", r.URL.Path,
			"kind", kind,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	s.writeJSON(w, status, errorResponse{Error: kind, Detail: service.ReasonOf(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func invalidBody(err error) error {
	reason := "invalid json"
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		reason = "request body too large"
	}
	return &service.Error{Kind: service.KindBadRequest, Reason: reason, Err: err}
}
