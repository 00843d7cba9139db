package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type TokenIssuer interface {
	IssueToken(ctx context.Context, clientID, secret string) (string, time.Time, error)
}

type tokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func TokenHandler(authSvc TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		if req.ClientID == "" || req.ClientSecret == "" {
			badRequest(w, "clientId and clientSecret required")
			return
		}

		token, expiresAt, err := authSvc.IssueToken(r.Context(), req.ClientID, req.ClientSecret)
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Authorization", "Bearer "+token)
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt})
	}
}
