package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/service"
)

type generateRequest struct {
	Messages    []models.Message `json:"messages"`
	MaxTokens   *int             `json:"max_tokens"`
	Temperature *float64         `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type generateResponse struct {
	Content          string `json:"content"`
	CreditsUsed      int    `json:"credits_used"`
	RemainingCredits int    `json:"remaining_credits"`
	BillingRecorded  *bool  `json:"billing_recorded,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, invalidBody(err))
		return
	}

	res, err := s.generation.Generate(r.Context(), bearerToken(r), service.GenerateRequest{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := generateResponse{
		Content:          res.Content,
		CreditsUsed:      res.CreditsUsed,
		RemainingCredits: res.RemainingCredits,
	}
	if !res.BillingRecorded {
		recorded := false
		resp.BillingRecorded = &recorded
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Email      string      `json:"email"`
	Tier       models.Tier `json:"tier"`
	Credits    int         `json:"credits"`
	TodayUsage int         `json:"today_usage"`
	APIToken   string      `json:"api_token"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.accounts.Status(r.Context(), bearerToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		Email:      st.Email,
		Tier:       st.Tier,
		Credits:    st.Credits,
		TodayUsage: st.TodayUsage,
		APIToken:   st.APIToken,
	})
}

type createRequest struct {
	Email string `json:"email"`
}

type createResponse struct {
	Message  string      `json:"message"`
	APIToken string      `json:"api_token"`
	Tier     models.Tier `json:"tier"`
	Credits  int         `json:"credits"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, invalidBody(err))
		return
	}
	if req.Email == "" {
		req.Email = r.URL.Query().Get("email")
	}

	account, err := s.accounts.Create(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("account created", "account_id", account.ID)
	s.writeJSON(w, http.StatusOK, createResponse{
		Message:  "User created",
		APIToken: account.APIToken,
		Tier:     account.Tier,
		Credits:  account.Credits,
	})
}

// bearerToken returns the credential from "Authorization: Bearer <token>",
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
