package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
	"github.com/digkill/creditgate/internal/service"
)

const defaultGapListLimit = 100

type accountResponse struct {
	ID      int64       `json:"id"`
	Email   string      `json:"email"`
	Tier    models.Tier `json:"tier"`
	Credits int         `json:"credits"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{ID: a.ID, Email: a.Email, Tier: a.Tier, Credits: a.Credits}
}

func (s *Server) handleListGaps(w http.ResponseWriter, r *http.Request) {
	limit := defaultGapListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, &service.Error{Kind: service.KindBadRequest, Reason: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	gaps, err := s.gaps.ListUnresolved(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if gaps == nil {
		gaps = []models.BillingGap{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"gaps": gaps})
}

func (s *Server) handleResolveGap(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	err := s.gaps.Resolve(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Detail: "billing gap not found or already resolved"})
		return
	}
	if err != nil {
		s.writeError(w, r, &service.Error{Kind: service.KindStoreError, Reason: "could not resolve billing gap", Err: err})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

type topUpRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, &service.Error{Kind: service.KindBadRequest, Reason: "invalid account id"})
		return
	}
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, invalidBody(err))
		return
	}

	account, err := s.accounts.TopUp(r.Context(), id, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("account topped up", "account_id", id, "amount", req.Amount, "credits", account.Credits)
	s.writeJSON(w, http.StatusOK, toAccountResponse(account))
}

type tierRequest struct {
	Tier models.Tier `json:"tier"`
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, &service.Error{Kind: service.KindBadRequest, Reason: "invalid account id"})
		return
	}
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, invalidBody(err))
		return
	}

	account, err := s.accounts.SetTier(r.Context(), id, req.Tier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("account tier changed", "account_id", id, "tier", account.Tier)
	s.writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="creditgate"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
